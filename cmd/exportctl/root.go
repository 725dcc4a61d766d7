package main

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/autocrop"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/preset"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

type commandContext struct {
	configFlag *string
	verbose    *bool
	jsonOutput *bool

	once    sync.Once
	config  *config.Config
	presets *preset.Registry
	initErr error
	logger  *logging.Logger
}

func newCommandContext(configFlag *string, verbose, jsonOutput *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose, jsonOutput: jsonOutput}
}

// ensure loads the configuration and preset registry once. Without a config
// file the built-in defaults are used.
func (c *commandContext) ensure(cmd *cobra.Command) error {
	c.once.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			c.config = config.Default()
		} else if c.config, c.initErr = config.Load(path); c.initErr != nil {
			return
		}

		level := zerolog.WarnLevel
		if *c.verbose {
			level = zerolog.DebugLevel
		}
		c.logger = logging.New(zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger())

		c.presets, c.initErr = preset.NewRegistry(c.config.Presets...)
	})
	return c.initErr
}

// exportService builds the same pipeline the API server runs, minus the queue
// and the outer sinks. Files land in outputDir, or in the configured export
// directory when it is empty.
func (c *commandContext) exportService(outputDir string) *transcoder.Service {
	cfg := c.config
	if outputDir == "" {
		outputDir = cfg.Export.OutputDir
	}
	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath, c.logger).
		WithTempDir(cfg.Transcoder.TempDir)

	var detector autocrop.Detector = autocrop.NopDetector{}
	if cfg.AutoCrop.DetectorURL != "" {
		detector = autocrop.NewHTTPDetector(cfg.AutoCrop.DetectorURL, cfg.AutoCrop.DetectorTimeout)
	}
	cropper := autocrop.NewAnalyzer(autocrop.Config{
		SampleInterval:  cfg.AutoCrop.SampleInterval,
		BucketSize:      cfg.AutoCrop.BucketSize,
		MinConfidence:   cfg.AutoCrop.MinConfidence,
		SmoothingFactor: cfg.AutoCrop.SmoothingFactor,
		MaxMovement:     cfg.AutoCrop.MaxMovement,
		Concurrency:     cfg.AutoCrop.Concurrency,
	}, ffmpeg, detector, c.logger)

	return transcoder.NewService(cfg.Transcoder, outputDir, transcoder.Deps{
		Presets:  c.presets,
		Prober:   ffmpeg,
		Runner:   ffmpeg,
		Cropper:  cropper,
		Captions: c.captions(),
		Logger:   c.logger,
	})
}

func (c *commandContext) captions() *subtitle.Generator {
	cfg := c.config
	return subtitle.NewGenerator(&subtitle.Optimizer{
		ReadingSpeed:   cfg.Subtitles.ReadingSpeed,
		MinDisplayTime: cfg.Subtitles.MinDisplayTime,
		MaxDisplayTime: cfg.Subtitles.MaxDisplayTime,
		MinGap:         cfg.Subtitles.MinGap,
	}, models.SubtitleStyle{
		MaxLineLength: cfg.Subtitles.MaxLineLength,
		MaxLines:      cfg.Subtitles.MaxLines,
		FontFile:      cfg.Transcoder.FontFile,
	})
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose, jsonOutput bool

	ctx := newCommandContext(&configFlag, &verbose, &jsonOutput)

	rootCmd := &cobra.Command{
		Use:           "exportctl",
		Short:         "Plan, render and caption clip exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.ensure(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newPlanCommand(ctx))
	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newCaptionsCommand(ctx))
	rootCmd.AddCommand(newPresetsCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))

	return rootCmd
}
