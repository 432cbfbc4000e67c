package main

import (
	"os"

	"github.com/golang/glog"

	"github.com/danieljhkim/deltaserve/internal/cli"
)

var version = "dev"

func main() {
	cli.SetVersion(version)

	err := cli.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
