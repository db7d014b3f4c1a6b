package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photo-press-go/internal/compressor"
	"photo-press-go/internal/config"
	"photo-press-go/internal/logger"
	"photo-press-go/internal/metadata"
	"photo-press-go/internal/runner"
	"photo-press-go/internal/statistics"
	"photo-press-go/internal/web"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	sourceDir string
	targetDir string
	dryRun    bool
	verbose   bool
	quiet     bool
	version   = "dev"
	port      int

	format    string
	quality   float64
	maxSizeMB float64
	maxWidth  int
	maxHeight int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:     "photo-press [files...]",
	Short:   "Shrink images to fit a byte budget",
	Version: version,
	Long: `PhotoPress downscales, lightly sharpens and re-encodes images so that
each one fits under a byte budget.

Features:
- Fits images within maximum dimensions, keeping the aspect ratio
- Encodes WebP when available, JPEG otherwise
- Lowers quality step by step until the output fits the budget
- Keeps the original when an image cannot be processed
- Dry-run mode for safe testing
- Web API with live progress over WebSocket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runFiles(cmd, args)
	},
}

// runCmd compresses every image below a directory.
var runCmd = &cobra.Command{
	Use:   "run [directory]",
	Short: "Compress all images in a directory tree",
	Long: `Walks the source directory (or the given directory) and compresses every
supported image. Outputs keep their relative paths below the target directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDirectory(cmd, args)
	},
}

// probeCmd reports whether the compact format is available.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check WebP encoding support",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd.Context())
	},
}

// serveCmd starts the web API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web API server",
	Long: `Starts an HTTP server exposing the compression pipeline:
- POST /api/compress and /api/compress/batch with data URIs
- POST /api/run to compress a directory in the background
- GET /ws for live progress`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	pf.BoolVar(&verbose, "verbose", false, "enable verbose logging")
	pf.BoolVar(&quiet, "quiet", false, "suppress non-error output")
	pf.BoolVar(&dryRun, "dry-run", false, "compress without writing any files")
	pf.StringVar(&sourceDir, "source", "", "source directory containing images")
	pf.StringVar(&targetDir, "target", "", "target directory for outputs (default: next to the source)")

	pf.StringVar(&format, "format", "", "output format: webp or jpeg")
	pf.Float64Var(&quality, "quality", 0, "starting quality in (0,1]")
	pf.Float64Var(&maxSizeMB, "max-size-mb", 0, "byte budget per image in MB")
	pf.IntVar(&maxWidth, "max-width", 0, "maximum output width")
	pf.IntVar(&maxHeight, "max-height", 0, "maximum output height")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig loads .env and locates the configuration file.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Could not load .env: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.photo-press")
		viper.AddConfigPath("/etc/photo-press")
	}

	if err := viper.ReadInConfig(); err == nil && !quiet {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runFiles compresses the files named on the command line.
func runFiles(cmd *cobra.Command, paths []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	run, closeFn := newRunner(cfg, log, stats)
	defer closeFn()

	if err := run.RunFiles(cmd.Context(), paths); err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	printSummary(stats)
	return nil
}

// runDirectory compresses a directory tree.
func runDirectory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(args) > 0 {
		cfg.SourceDirectory = args[0]
	}
	if cfg.SourceDirectory == "" {
		cfg.SourceDirectory = "."
	}
	if !dirExists(cfg.SourceDirectory) {
		return fmt.Errorf("source directory does not exist: %s", cfg.SourceDirectory)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	run, closeFn := newRunner(cfg, log, stats)
	defer closeFn()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run.Run(ctx); err != nil {
		return fmt.Errorf("compression run failed: %w", err)
	}

	printSummary(stats)
	return nil
}

// runProbe prints compact format support.
func runProbe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logrus.New()
	comp := compressor.NewDefaultCompressor(log)

	if comp.SupportsCompactFormat(ctx) {
		fmt.Println("WebP encoding: supported")
	} else {
		fmt.Println("WebP encoding: unavailable, JPEG will be used")
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
		cfg.Security.DryRun = true
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	comp := compressor.NewDefaultCompressor(log, cfg.CompressorOptions()...)
	server := web.NewServer(cfg, log, comp)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("PhotoPress API listening on http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// newRunner wires the compressor, marker and optional stamper. The returned
// func releases the stamper.
func newRunner(cfg *config.Config, log *logrus.Logger, stats *statistics.Statistics) (*runner.Runner, func()) {
	comp := compressor.NewDefaultCompressor(log, cfg.CompressorOptions()...)
	marker := metadata.NewEXIFMarker(log, cfg.Processing.Mark)

	var stamper metadata.Stamper
	closeFn := func() {}
	if cfg.Processing.StampOutput && !cfg.Security.DryRun {
		st, err := metadata.NewExiftoolStamper(cfg.Processing.Mark)
		if err != nil {
			log.Warnf("Output stamping disabled: %v", err)
		} else {
			stamper = st
			closeFn = func() { _ = st.Close() }
		}
	}

	return runner.NewRunner(cfg, log, stats, comp, marker, stamper), closeFn
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	if sourceDir != "" {
		cfg.SourceDirectory = sourceDir
	}
	if targetDir != "" {
		cfg.TargetDirectory = &targetDir
	}
	if dryRun {
		cfg.Security.DryRun = true
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Compression.Format = format
	}
	if flags.Changed("quality") {
		cfg.Compression.Quality = quality
	}
	if flags.Changed("max-size-mb") {
		cfg.Compression.MaxSizeMB = maxSizeMB
	}
	if flags.Changed("max-width") {
		cfg.Compression.MaxWidth = maxWidth
	}
	if flags.Changed("max-height") {
		cfg.Compression.MaxHeight = maxHeight
	}

	if err := cfg.CompressorConfig().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func printSummary(stats *statistics.Statistics) {
	if quiet {
		return
	}
	fmt.Println("\n" + stats.GetSummary())
	fmt.Println("\n" + stats.GetFormatBreakdown())
	if snap := stats.Snapshot(); snap.FilesWithErrors > 0 || snap.FilesPassed > 0 {
		fmt.Println(stats.GetErrorSummary())
	}
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
