package cmd

import (
	"github.com/spf13/cobra"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/protocol"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zkbctl",
		Short: "zkbctl controls and inspects the killmail ingestion pipeline.",
	}

	cmd.PersistentFlags().String("bus", commonconfig.BusTypePulsar, "Message bus to connect to: pulsar or nats.")
	cmd.PersistentFlags().String("url", "pulsar://localhost:6650", "URL to connect to Pulsar on.")
	cmd.PersistentFlags().Bool("authenticationEnabled", false, "Use authentication.")
	cmd.PersistentFlags().String("authenticationType", "JWT", "Authentication type")
	cmd.PersistentFlags().String("jwtTokenPath", "", "Path of JWT file")
	cmd.PersistentFlags().StringSlice("natsServers", []string{"nats://localhost:4222"}, "NATS servers to connect to.")
	cmd.PersistentFlags().String("commandTopic", "", "Topic of the hash manager commands; defaults to the bus specific default")
	cmd.PersistentFlags().String("dataTopic", "", "Topic of the data events; defaults to the bus specific default")
	cmd.PersistentFlags().String("dbDriver", commonconfig.DriverSqlite, "Database driver: sqlite or postgres.")
	cmd.PersistentFlags().String("dbPath", "zkb.db", "Database file for sqlite")
	cmd.PersistentFlags().StringToString("dbConnection", map[string]string{}, "Connection parameters for postgres, e.g. host=localhost,dbname=zkb")

	cmd.AddCommand(
		quitCmd(),
		requestCmd(),
		watchCmd(),
		migrateCmd(),
		statusCmd(),
	)

	return cmd
}

func defaultTopics(busType string) (commandTopic, dataTopic string) {
	if busType == commonconfig.BusTypePulsar {
		return "persistent://public/default/zkb-commands", "persistent://public/default/zkb-data"
	}
	return protocol.DefaultCommandTopic, protocol.DefaultDataTopic
}
