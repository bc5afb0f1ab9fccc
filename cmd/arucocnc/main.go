// Package main is the arucocnc command line entry point.
package main

import (
	"os"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		cli.Errorf(app.ErrWriter, "%v", err)
		os.Exit(1)
	}
}
