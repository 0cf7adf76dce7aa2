// Package main is the calibrate command itself.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/MarqRazz/robot-calibration/calibration/optimizer"
	calibcli "github.com/MarqRazz/robot-calibration/cli"
)

func main() {
	app := calibcli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			if msg := exitErr.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exitErr.ExitCode())
		}
		// Usage errors are configuration errors too.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(optimizer.StatusConfigurationError))
	}
}
