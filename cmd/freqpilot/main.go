package main

import (
	"github.com/skobkin/freqpilot/internal/cmd"
	"github.com/skobkin/freqpilot/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	cmd.Execute()
}
