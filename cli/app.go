// Package cli contains the stereo command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	debugFlag   = "debug"
	logFileFlag = "log-file"

	configFlag          = "config"
	rigFlag             = "rig"
	leftFlag            = "left"
	rightFlag           = "right"
	outFlag             = "out"
	outDirFlag          = "out-dir"
	correspondencesFlag = "correspondences"
	widthFlag           = "width"
	heightFlag          = "height"
	distortionFlag      = "distortion"
	iterationsFlag      = "iterations"
	refineFlag          = "refine"
	baselineFlag        = "baseline"
	undistortFlag       = "undistort"
	histogramFlag       = "histogram"
	binsFlag            = "bins"
)

var app = &cli.App{
	Name:            "stereo",
	Usage:           "calibrate stereo rigs and reconstruct depth from image pairs",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  logFileFlag,
			Usage: "write JSON logs to a rotated `FILE` instead of stdout",
		},
	},
	Before: setupLogging,
	After:  closeLogging,
	Commands: []*cli.Command{
		{
			Name:      "calibrate",
			Usage:     "calibrate one camera from world to pixel correspondences",
			UsageText: "stereo calibrate --correspondences points.json --width 640 --height 480 --out camera.json",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     correspondencesFlag,
					Usage:    "JSON `FILE` of world and image point pairs",
					Required: true,
				},
				&cli.IntFlag{
					Name:     widthFlag,
					Usage:    "image width in pixels",
					Required: true,
				},
				&cli.IntFlag{
					Name:     heightFlag,
					Usage:    "image height in pixels",
					Required: true,
				},
				&cli.StringFlag{
					Name:  distortionFlag,
					Usage: "lens terms to fit: none, radial or radial-tangential",
					Value: "none",
				},
				&cli.IntFlag{
					Name:  iterationsFlag,
					Usage: "alternations of the camera and distortion fits",
				},
				&cli.BoolFlag{
					Name:  refineFlag,
					Usage: "finish with a nonlinear minimization of the reprojection error",
				},
				&cli.StringFlag{
					Name:     outFlag,
					Usage:    "write the camera to `FILE`",
					Required: true,
				},
			},
			Action: CalibrateAction,
		},
		{
			Name:  "rig",
			Usage: "pair two calibrated cameras into a rig",
			Description: "Without correspondences the relative pose comes from the cameras' own poses. " +
				"With them it is estimated through the essential matrix and scaled to --baseline.",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     leftFlag,
					Usage:    "left camera `FILE`",
					Required: true,
				},
				&cli.StringFlag{
					Name:     rightFlag,
					Usage:    "right camera `FILE`",
					Required: true,
				},
				&cli.StringFlag{
					Name:  correspondencesFlag,
					Usage: "JSON `FILE` of left and right pixel pairs",
				},
				&cli.Float64Flag{
					Name:  baselineFlag,
					Usage: "distance between the camera centres, required with correspondences",
				},
				&cli.StringFlag{
					Name:     outFlag,
					Usage:    "write the rig to `FILE`, as text when it ends in .txt",
					Required: true,
				},
			},
			Action: RigAction,
		},
		{
			Name:  "rectify",
			Usage: "warp an image pair into the rectified views of a rig",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     configFlag,
					Aliases:  []string{"c"},
					Usage:    "load configuration from `FILE`",
					Required: true,
				},
				&cli.StringFlag{
					Name:     leftFlag,
					Usage:    "left image `FILE`",
					Required: true,
				},
				&cli.StringFlag{
					Name:     rightFlag,
					Usage:    "right image `FILE`",
					Required: true,
				},
				&cli.StringFlag{
					Name:  outDirFlag,
					Usage: "override the configured output directory",
				},
			},
			Action: RectifyAction,
		},
		{
			Name:  "disparity",
			Usage: "compute disparity maps and point clouds for image pairs",
			Description: "Pairs are taken in order from repeated --left and --right flags. For frame N it writes " +
				"disparity_N.png, disparity_N.dat and, unless disabled, cloud_N.pcd.",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     configFlag,
					Aliases:  []string{"c"},
					Usage:    "load configuration from `FILE`",
					Required: true,
				},
				&cli.StringSliceFlag{
					Name:     leftFlag,
					Usage:    "left image `FILE`s",
					Required: true,
				},
				&cli.StringSliceFlag{
					Name:     rightFlag,
					Usage:    "right image `FILE`s",
					Required: true,
				},
				&cli.StringFlag{
					Name:  outDirFlag,
					Usage: "override the configured output directory",
				},
				&cli.BoolFlag{
					Name:  histogramFlag,
					Usage: "print a disparity histogram and save it as histogram_N.png",
				},
				&cli.IntFlag{
					Name:  binsFlag,
					Usage: "histogram bins",
					Value: 32,
				},
			},
			Action: DisparityAction,
		},
		{
			Name:      "convert",
			Usage:     "convert a rig between the JSON and text formats",
			ArgsUsage: "<input> <output>",
			Action:    ConvertAction,
		},
		{
			Name:      "info",
			Usage:     "print the cameras and baseline of a rig",
			ArgsUsage: "<rig>",
			Action:    InfoAction,
		},
		{
			Name:  "epipolar",
			Usage: "report how far pixel correspondences are from their epipolar lines",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     rigFlag,
					Usage:    "rig `FILE`",
					Required: true,
				},
				&cli.StringFlag{
					Name:     correspondencesFlag,
					Usage:    "JSON `FILE` of left and right pixel pairs",
					Required: true,
				},
				&cli.BoolFlag{
					Name:  undistortFlag,
					Usage: "remove lens distortion from the pixels first",
					Value: true,
				},
			},
			Action: EpipolarAction,
		},
	},
}

// NewApp returns a new app with the CLI command set.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
