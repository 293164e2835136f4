package main

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zkbarchive/zkb/internal/common"
	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/historyfetcher"
	"github.com/zkbarchive/zkb/internal/historyfetcher/configuration"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "historyfetcher --first YYYY-MM-DD --last YYYY-MM-DD",
		Short: "Publish the zKillboard killmail history of a range of days to the hash manager.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			first, err := dateFlag(cmd, "first")
			if err != nil {
				return err
			}
			last, err := dateFlag(cmd, "last")
			if err != nil {
				return err
			}
			configs, err := cmd.Flags().GetStringSlice("config")
			if err != nil {
				return err
			}

			var config configuration.HistoryFetcherConfiguration
			common.LoadConfig(&config, "./config/historyfetcher", configs)
			return historyfetcher.Run(&config, first, last)
		},
	}

	cmd.Flags().String("first", "", "First day to fetch (YYYY-MM-DD)")
	cmd.Flags().String("last", "", "Last day to fetch, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringSlice("config", []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = cmd.MarkFlagRequired("first")
	_ = cmd.MarkFlagRequired("last")
	return cmd
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return time.Time{}, err
	}
	return commonconfig.ParseDate(value)
}

func main() {
	common.ConfigureLogging()
	if err := rootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
