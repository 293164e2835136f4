package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zkbarchive/zkb/internal/common/app"
	"github.com/zkbarchive/zkb/internal/zkbctl"
)

// newApp builds the app from the persistent flags in PreRunE so every command shares the same flags.
func newApp(a **zkbctl.App) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		params, err := processCmdFlags(cmd.Flags())
		if err != nil {
			return err
		}
		*a = zkbctl.New(params)
		return nil
	}
}

func quitCmd() *cobra.Command {
	var a *zkbctl.App
	return &cobra.Command{
		Use:     "quit",
		Short:   "Ask the hash manager to stop",
		Long:    "Ask the hash manager to stop once every command sent before has been processed.",
		Args:    cobra.ExactArgs(0),
		PreRunE: newApp(&a),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Quit(cmd.Context())
		},
	}
}

func requestCmd() *cobra.Command {
	var a *zkbctl.App
	cmd := &cobra.Command{
		Use:     "request",
		Short:   "Ask the hash manager for pending hashes",
		Args:    cobra.ExactArgs(0),
		PreRunE: newApp(&a),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := cmd.Flags().GetUint32("count")
			if err != nil {
				return err
			}
			return a.Request(cmd.Context(), count)
		},
	}
	cmd.Flags().Uint32("count", 8, "Number of hashes to request")
	return cmd
}

func watchCmd() *cobra.Command {
	var a *zkbctl.App
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Print messages published on a topic",
		Long:    "Print decoded messages published on the commands or data topic until interrupted.",
		Args:    cobra.ExactArgs(0),
		PreRunE: newApp(&a),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := cmd.Flags().GetString("topic")
			if err != nil {
				return err
			}
			ctx, cancel := app.CreateContextWithShutdown()
			defer cancel()
			return a.Watch(ctx, topic)
		},
	}
	cmd.Flags().String("topic", zkbctl.TopicCommands, "Topic to watch: commands or data")
	return cmd
}

func migrateCmd() *cobra.Command {
	var a *zkbctl.App
	return &cobra.Command{
		Use:     "migrate",
		Short:   "Create or upgrade the database schema",
		Args:    cobra.ExactArgs(0),
		PreRunE: newApp(&a),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Migrate(cmd.Context())
		},
	}
}

func statusCmd() *cobra.Command {
	var a *zkbctl.App
	return &cobra.Command{
		Use:     "status",
		Short:   "Print the number of pending and complete hashes",
		Args:    cobra.ExactArgs(0),
		PreRunE: newApp(&a),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Status(cmd.Context())
		},
	}
}
