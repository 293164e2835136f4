package cmd

import (
	"github.com/spf13/pflag"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/zkbctl"
)

func processCmdFlags(flags *pflag.FlagSet) (zkbctl.Params, error) {
	var params zkbctl.Params
	busType, err := flags.GetString("bus")
	if err != nil {
		return params, err
	}
	url, err := flags.GetString("url")
	if err != nil {
		return params, err
	}
	authEnable, err := flags.GetBool("authenticationEnabled")
	if err != nil {
		return params, err
	}
	authType, err := flags.GetString("authenticationType")
	if err != nil {
		return params, err
	}
	jwtPath, err := flags.GetString("jwtTokenPath")
	if err != nil {
		return params, err
	}
	natsServers, err := flags.GetStringSlice("natsServers")
	if err != nil {
		return params, err
	}
	commandTopic, err := flags.GetString("commandTopic")
	if err != nil {
		return params, err
	}
	dataTopic, err := flags.GetString("dataTopic")
	if err != nil {
		return params, err
	}
	dbDriver, err := flags.GetString("dbDriver")
	if err != nil {
		return params, err
	}
	dbPath, err := flags.GetString("dbPath")
	if err != nil {
		return params, err
	}
	dbConnection, err := flags.GetStringToString("dbConnection")
	if err != nil {
		return params, err
	}

	defaultCommandTopic, defaultDataTopic := defaultTopics(busType)
	if commandTopic == "" {
		commandTopic = defaultCommandTopic
	}
	if dataTopic == "" {
		dataTopic = defaultDataTopic
	}

	params.Bus = commonconfig.BusConfig{
		Type:         busType,
		CommandTopic: commandTopic,
		DataTopic:    dataTopic,
		Pulsar: commonconfig.PulsarConfig{
			URL:                   url,
			AuthenticationEnabled: authEnable,
			AuthenticationType:    authType,
			JwtTokenPath:          jwtPath,
		},
		Nats: commonconfig.NatsConfig{
			Servers: natsServers,
		},
	}
	params.Database = commonconfig.DatabaseConfig{
		Driver:     dbDriver,
		Path:       dbPath,
		Connection: dbConnection,
	}
	return params, nil
}
