package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zkbarchive/zkb/internal/common"
	"github.com/zkbarchive/zkb/internal/hashmanager"
	"github.com/zkbarchive/zkb/internal/hashmanager/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.StringSlice(CustomConfigLocation, []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.HashManagerConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/hashmanager", userSpecifiedConfigs)

	if err := hashmanager.Run(&config); err != nil {
		log.Fatal(err)
	}
}
