// Package cli contains the calibrate command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	urdfFlag       = "urdf"
	paramsFlag     = "params"
	dataFlag       = "data"
	outFlag        = "out"
	dbFlag         = "db"
	robotFlag      = "robot"
	fullReportFlag = "full-report"
	debugFlag      = "debug"
	rootFrameFlag  = "root-frame"
	ledFrameFlag   = "led-frame"
	packageFlag    = "package"
	limitFlag      = "limit"
)

var (
	urdfCLIFlag = &cli.PathFlag{
		Name:     urdfFlag,
		Aliases:  []string{"u"},
		Required: true,
		Usage:    "robot description in `FILE`",
	}
	paramsCLIFlag = &cli.PathFlag{
		Name:     paramsFlag,
		Aliases:  []string{"p"},
		Required: true,
		Usage:    "optimization params in YAML `FILE`",
	}
	dataCLIFlag = &cli.PathFlag{
		Name:     dataFlag,
		Aliases:  []string{"d"},
		Required: true,
		Usage:    "captured samples in JSON or YAML `FILE`",
	}
	rootFrameCLIFlag = &cli.StringFlag{
		Name:  rootFrameFlag,
		Usage: "frame chains are resolved from when the params name no base link",
	}
	ledFrameCLIFlag = &cli.StringFlag{
		Name:  ledFrameFlag,
		Usage: "frame observed by chain3d models that name no frame",
	}
	packageCLIFlag = &cli.StringSliceFlag{
		Name:  packageFlag,
		Usage: "resolve package://NAME/ mesh paths to DIR, given as NAME=DIR",
	}
	dbCLIFlag = &cli.PathFlag{
		Name:  dbFlag,
		Usage: "sqlite database calibration runs are kept in",
	}
	robotCLIFlag = &cli.StringFlag{
		Name:  robotFlag,
		Usage: "robot name runs are stored under, defaults to the name in the description",
	}
)

var app = &cli.App{
	Name:            "calibrate",
	Usage:           "estimate robot calibration offsets from captured samples",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	// Exit codes are left to main so the app can run inside tests.
	ExitErrHandler: func(*cli.Context, error) {},
	Commands: []*cli.Command{
		{
			Name:      "run",
			Usage:     "solve for the offsets that best explain the samples",
			UsageText: "calibrate run --urdf <file> --params <file> --data <file> [other options]",
			Flags: []cli.Flag{
				urdfCLIFlag,
				paramsCLIFlag,
				dataCLIFlag,
				rootFrameCLIFlag,
				ledFrameCLIFlag,
				packageCLIFlag,
				&cli.PathFlag{
					Name:    outFlag,
					Aliases: []string{"o"},
					Usage:   "write the calibrated offsets to YAML `FILE` instead of stdout",
				},
				&cli.BoolFlag{
					Name:  fullReportFlag,
					Usage: "print the full solver report",
				},
				dbCLIFlag,
				robotCLIFlag,
			},
			Action: RunAction,
		},
		{
			Name:      "check",
			Usage:     "build the calibration problem without solving it",
			UsageText: "calibrate check --urdf <file> --params <file> --data <file>",
			Flags: []cli.Flag{
				urdfCLIFlag,
				paramsCLIFlag,
				dataCLIFlag,
				rootFrameCLIFlag,
				ledFrameCLIFlag,
				packageCLIFlag,
			},
			Action: CheckAction,
		},
		{
			Name:            "runs",
			Usage:           "work with stored calibration runs",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:  "list",
					Usage: "list stored runs, newest first",
					Flags: []cli.Flag{
						&cli.PathFlag{
							Name:     dbFlag,
							Required: true,
							Usage:    "sqlite database calibration runs are kept in",
						},
						robotCLIFlag,
						&cli.IntFlag{
							Name:  limitFlag,
							Value: 20,
							Usage: "maximum number of runs to list, 0 lists all",
						},
					},
					Action: ListRunsAction,
				},
				{
					Name:      "show",
					Usage:     "print the offsets of a stored run",
					ArgsUsage: "<run id>",
					Flags: []cli.Flag{
						&cli.PathFlag{
							Name:     dbFlag,
							Required: true,
							Usage:    "sqlite database calibration runs are kept in",
						},
					},
					Action: ShowRunAction,
				},
			},
		},
		{
			Name:   "version",
			Usage:  "print version info for this program",
			Action: VersionAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
