package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	internal "github.com/ZanzyTHEbar/dataset-stager/dstage"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/codec"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/config"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/pipeline"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/platform/httpapi"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/platform/memory"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/ports"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/common"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/options"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/stream"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/upload"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// app carries what every command needs once flags are parsed.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *common.Metrics
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line in args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cliApp := newApp()
	cliApp.Writer = stdout
	cliApp.ErrWriter = stderr
	// exit codes are decided here, never inside the cli package
	cliApp.ExitErrHandler = func(*cli.Context, error) {}

	err := cliApp.RunContext(ctx, args)
	if err == nil {
		return 0
	}

	log := internal.NewLogger(stderr, internal.DefaultLogLevel, "json")
	log.Error().Err(err).Msg("dstage failed")

	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return exitCode(err)
}

// exitCode maps pipeline error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch common.KindOf(err) {
	case common.ErrStagingConflict:
		return 3
	case common.ErrSizeViolation:
		return 4
	case common.ErrCopyFailure:
		return 5
	case common.ErrUploadFailure:
		return 6
	case common.ErrEmptyDataset, common.ErrNotProcessed:
		return 7
	default:
		return 1
	}
}

func newApp() *cli.App {
	a := &app{}
	nameFlag := &cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "dataset name", Required: true}
	manifestFlag := &cli.StringFlag{Name: "manifest", Aliases: []string{"m"}, Usage: "JSON-lines sample manifest", Required: true}

	return &cli.App{
		Name:                 internal.DefaultAppName,
		Usage:                "chunk, rebalance and upload sample datasets",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				EnvVars: []string{"DSTAGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "use an in-memory platform instead of the configured service",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "write Prometheus metrics to this file on exit",
			},
		},
		Before: func(c *cli.Context) error {
			return a.setup(c)
		},
		After: func(c *cli.Context) error {
			path := c.String("metrics-file")
			if path == "" || a.registry == nil {
				return nil
			}
			return prometheus.WriteToTextfile(path, a.registry)
		},
		Commands: []*cli.Command{
			{
				Name:  "process",
				Usage: "chunk and rebalance a dataset into staged archives",
				Flags: []cli.Flag{nameFlag, manifestFlag},
				Action: func(c *cli.Context) error {
					d, err := a.driver(c, true)
					if err != nil {
						return err
					}
					s, err := stream.OpenManifest(c.String("manifest"))
					if err != nil {
						return err
					}
					defer s.Close()
					_, err = d.Process(c.Context, c.String("name"), s)
					return err
				},
			},
			{
				Name:  "upload",
				Usage: "upload staged archives, resuming from the remote cursor",
				Flags: []cli.Flag{nameFlag},
				Action: func(c *cli.Context) error {
					d, err := a.driver(c, true)
					if err != nil {
						return err
					}
					return d.Upload(c.Context, c.String("name"))
				},
			},
			{
				Name:  "run",
				Usage: "process and upload a dataset",
				Flags: []cli.Flag{nameFlag, manifestFlag},
				Action: func(c *cli.Context) error {
					d, err := a.driver(c, true)
					if err != nil {
						return err
					}
					s, err := stream.OpenManifest(c.String("manifest"))
					if err != nil {
						return err
					}
					defer s.Close()
					return d.Run(c.Context, c.String("name"), s)
				},
			},
			{
				Name:  "verify",
				Usage: "check staged archives against the remote sample count",
				Flags: []cli.Flag{nameFlag},
				Action: func(c *cli.Context) error {
					d, err := a.driver(c, true)
					if err != nil {
						return err
					}
					report, err := d.Verify(c.Context, c.String("name"))
					if err != nil {
						return err
					}
					if !report.OK() {
						return cli.Exit(fmt.Sprintf("%d problems in %d archives", len(report.Problems), report.Archives), 2)
					}
					fmt.Fprintf(c.App.Writer, "%d samples in %d archives verified\n", report.Samples, report.Archives)
					return nil
				},
			},
			{
				Name:  "clean",
				Usage: "remove leftover temporary and merge scratch directories",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "root", Usage: "directory to clean (defaults to staging.root)"},
				},
				Action: func(c *cli.Context) error {
					root := c.String("root")
					if root == "" {
						root = a.cfg.Staging.Root
					}
					d, err := a.driver(c, false)
					if err != nil {
						return err
					}
					n, err := d.CleanTemps(root)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "removed %d temporary directories\n", n)
					return nil
				},
			},
		},
	}
}

func (a *app) setup(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	a.cfg = cfg
	a.log = internal.NewLogger(c.App.ErrWriter, cfg.Log.Level, cfg.Log.Format)
	a.registry = prometheus.NewRegistry()
	a.metrics = common.NewMetrics(a.registry)
	return nil
}

// driver wires a pipeline driver. Commands that never reach the platform pass
// needPlatform=false and run without platform configuration.
func (a *app) driver(c *cli.Context, needPlatform bool) (*pipeline.Driver, error) {
	var platform ports.Platform
	switch {
	case c.Bool("dry-run"):
		platform = memory.New("")
		a.log.Warn().Msg("Dry run: datasets are created in memory only")
	case needPlatform:
		client, err := httpapi.NewClient(a.cfg.Platform, nil, a.log)
		if err != nil {
			return nil, err
		}
		platform = client
	}

	transport := upload.NewHTTPTransport(nil, a.cfg.Platform.AcceptStatus, a.log)
	ui := newConsoleInteractor(c.App.Writer, a.log)
	return pipeline.NewDriver(options.FromConfig(a.cfg), platform, transport, codec.Default(), ui, a.log, a.metrics), nil
}
