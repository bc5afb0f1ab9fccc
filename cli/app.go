// Package cli contains the arucocnc command tree.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	configFlag     = "config"
	debugFlag      = "debug"
	machineFlag    = "machine"
	cameraFlag     = "camera"
	normalizedFlag = "normalized"
	imageFlag      = "image"
	forceFlag      = "force"
	warnRMSFlag    = "warn-rms"
	inverseFlag    = "inverse"
	csFlag         = "cs"
	dryRunFlag     = "dry-run"
	plotFlag       = "plot"
	annotateFlag   = "annotate"
)

// NewApp returns the CLI with Writer set to out and ErrWriter set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "arucocnc",
		Usage:           "register a camera to a CNC machine with ArUco markers",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Value:   "arucocnc.json",
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"ARUCOCNC_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:            "points",
				Usage:           "work with calibration points",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list the stored calibration points",
						Action: ListPointsAction,
					},
					{
						Name:  "add",
						Usage: "add a calibration point from known coordinates",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     machineFlag,
								Usage:    "machine position as `X,Y,Z`",
								Required: true,
							},
							&cli.StringFlag{
								Name:     cameraFlag,
								Usage:    "camera-frame marker position as `X,Y,Z`",
								Required: true,
							},
							&cli.StringFlag{
								Name:  normalizedFlag,
								Usage: "normalized image position as `U,V`",
								Value: "0,0",
							},
						},
						Action: AddPointAction,
					},
					{
						Name:  "capture",
						Usage: "read the machine position and locate the marker in an image",
						Flags: []cli.Flag{
							&cli.PathFlag{
								Name:     imageFlag,
								Usage:    "image `FILE` showing the marker",
								Required: true,
							},
							&cli.StringFlag{
								Name:  machineFlag,
								Usage: "use this `X,Y,Z` instead of asking the machine",
							},
							&cli.PathFlag{
								Name:  annotateFlag,
								Usage: "save the detection drawn over the image to `FILE`",
							},
						},
						Action: CapturePointAction,
					},
					{
						Name:      "remove",
						Usage:     "remove the calibration point at an index",
						ArgsUsage: "<index>",
						Action:    RemovePointAction,
					},
					{
						Name:   "clear",
						Usage:  "remove every calibration point",
						Action: ClearPointsAction,
					},
				},
			},
			{
				Name:  "compute",
				Usage: "fit the camera to machine transform",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  forceFlag,
						Usage: "recompute even if the points did not change",
					},
					&cli.Float64Flag{
						Name:  warnRMSFlag,
						Usage: "warn when the RMS residual exceeds this",
						Value: 1,
					},
					&cli.PathFlag{
						Name:  plotFlag,
						Usage: "write a bar chart of the residuals to `FILE` (.png, .svg or .pdf)",
					},
				},
				Action: ComputeAction,
			},
			{
				Name:  "transform",
				Usage: "map a camera point, or the marker in an image, into machine coordinates",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  cameraFlag,
						Usage: "camera-frame point as `X,Y,Z`",
					},
					&cli.PathFlag{
						Name:  imageFlag,
						Usage: "image `FILE` showing the marker",
					},
					&cli.PathFlag{
						Name:  annotateFlag,
						Usage: "save the detection drawn over the image to `FILE`",
					},
					&cli.BoolFlag{
						Name:  inverseFlag,
						Usage: "treat --camera as a machine point and map it into the camera frame",
					},
				},
				Action: TransformAction,
			},
			{
				Name:  "offset",
				Usage: "set a work coordinate system origin at the marker seen in an image",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     imageFlag,
						Usage:    "image `FILE` showing the marker",
						Required: true,
					},
					&cli.IntFlag{
						Name:  csFlag,
						Usage: "work coordinate system, 1 (G54) to 6 (G59); defaults to the config",
					},
					&cli.BoolFlag{
						Name:  dryRunFlag,
						Usage: "print the offset without talking to the machine",
					},
				},
				Action: OffsetAction,
			},
			{
				Name:            "config",
				Usage:           "work with the config file",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "schema",
						Usage:  "print the JSON schema of the config file",
						Action: SchemaAction,
					},
				},
			},
			{
				Name:   "ports",
				Usage:  "list serial ports",
				Action: ListPortsAction,
			},
		},
	}
}
