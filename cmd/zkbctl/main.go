package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/zkbarchive/zkb/cmd/zkbctl/cmd"
	"github.com/zkbarchive/zkb/internal/common"
)

// Config is handled by cmd/util.go
func main() {
	common.ConfigureCommandLineLogging()
	root := cmd.RootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
