// Package runner compresses every supported image under a directory tree and
// writes the results to a target directory.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"photo-press-go/internal/compressor"
	"photo-press-go/internal/config"
	"photo-press-go/internal/logger"
	"photo-press-go/internal/metadata"
	"photo-press-go/internal/payload"
	"photo-press-go/internal/statistics"
)

// LogHookFunc receives user-facing progress lines (e.g. for a websocket).
type LogHookFunc func(level, message string)

// Runner walks a source directory and compresses the images it finds.
type Runner struct {
	config     *config.Config
	logger     *logrus.Logger
	stats      *statistics.Statistics
	compressor compressor.Compressor
	marker     metadata.MarkDetector
	stamper    metadata.Stamper

	logHook LogHookFunc
}

// FileInfo describes a discovered source image.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
	// OutDir overrides the configured target directory when set.
	OutDir string
}

// NewRunner returns a new Runner. marker and stamper may be nil.
func NewRunner(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	comp compressor.Compressor,
	marker metadata.MarkDetector,
	stamper metadata.Stamper,
) *Runner {
	return NewRunnerWithLogHook(cfg, logger, stats, comp, marker, stamper, nil)
}

// NewRunnerWithLogHook is NewRunner with progress lines forwarded to logHook.
func NewRunnerWithLogHook(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	comp compressor.Compressor,
	marker metadata.MarkDetector,
	stamper metadata.Stamper,
	logHook LogHookFunc,
) *Runner {
	return &Runner{
		config:     cfg,
		logger:     logger,
		stats:      stats,
		compressor: comp,
		marker:     marker,
		stamper:    stamper,
		logHook:    logHook,
	}
}

// Run compresses all images under the source directory. Images are handled in
// chunks of batch_size so that only one chunk of payloads is held in memory.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Starting compression run")

	files, err := r.discoverFiles()
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}
	r.stats.AddFilesFound(len(files))

	if len(files) == 0 {
		r.logger.Info("No images found to compress")
		r.stats.Finalize()
		return nil
	}
	r.logger.Infof("Found %d images to process", len(files))
	return r.process(ctx, files)
}

// RunFiles compresses an explicit list of files. Outputs go to the target
// directory, or next to each source when none is configured.
func (r *Runner) RunFiles(ctx context.Context, paths []string) error {
	files := make([]FileInfo, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			r.fail(path, "stat", err)
			continue
		}
		if info.IsDir() {
			r.logger.Warnf("Skipping directory %s, use the run command for directories", path)
			continue
		}
		outDir := filepath.Dir(path)
		if !r.config.IsInPlace() {
			outDir = r.config.GetTargetDirectory()
		}
		files = append(files, FileInfo{
			Path:    path,
			RelPath: filepath.Base(path),
			Size:    info.Size(),
			OutDir:  outDir,
		})
	}
	r.stats.AddFilesFound(len(files))
	return r.process(ctx, files)
}

func (r *Runner) process(ctx context.Context, files []FileInfo) error {
	if r.config.Security.DryRun {
		r.logger.Info("Running in dry-run mode - no files will be written")
	}

	batchSize := max(1, r.config.Performance.BatchSize)
	for start := 0; start < len(files); start += batchSize {
		if err := ctx.Err(); err != nil {
			r.stats.Finalize()
			return err
		}
		end := min(start+batchSize, len(files))
		r.processChunk(ctx, files[start:end])
	}

	r.stats.Finalize()
	r.logger.Info("Compression run completed")
	return nil
}

// discoverFiles finds all supported images below the source directory,
// skipping the target directory when it is nested inside the source.
func (r *Runner) discoverFiles() ([]FileInfo, error) {
	source := r.config.SourceDirectory
	target := ""
	if !r.config.IsInPlace() {
		target = filepath.Clean(r.config.GetTargetDirectory())
	}

	var files []FileInfo
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if target != "" && filepath.Clean(path) == target {
				return filepath.SkipDir
			}
			return nil
		}
		if !r.config.IsImageExtension(filepath.Ext(path)) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			r.logger.Warnf("Error reading file info %s: %v", path, err)
			return nil
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		files = append(files, FileInfo{Path: path, RelPath: rel, Size: info.Size()})

		if r.config.Security.MaxFilesPerRun > 0 && len(files) >= r.config.Security.MaxFilesPerRun {
			r.logger.Infof("Reached maximum files limit (%d), stopping discovery", r.config.Security.MaxFilesPerRun)
			return filepath.SkipAll
		}
		return nil
	})
	return files, err
}

// processChunk loads a chunk of files, drops marked ones and compresses the
// rest through the sequential batch runner.
func (r *Runner) processChunk(ctx context.Context, chunk []FileInfo) {
	images := make([]payload.Image, 0, len(chunk))
	pending := make([]FileInfo, 0, len(chunk))

	for _, file := range chunk {
		img, err := payload.ReadFile(file.Path)
		if err != nil {
			r.fail(file.Path, "read", err)
			continue
		}
		if r.config.Processing.SkipMarked && r.marker != nil && r.marker.HasMark(img) {
			r.stats.IncrementFilesSkipped()
			r.emit(logrus.InfoLevel, fmt.Sprintf("Skipping already compressed image: %s", file.Path))
			continue
		}
		images = append(images, img)
		pending = append(pending, file)
	}
	if len(images) == 0 {
		return
	}

	cfg := r.config.CompressorConfig()
	results := r.compressor.CompressBatch(ctx, images, cfg)
	for i, res := range results {
		r.stats.RecordResult(res, cfg.Format, cfg.MaxSizeBytes())
		if res.Passthrough() {
			r.stats.IncrementFilesWithErrors()
			r.stats.AddError(pending[i].Path, "compress", res.Error)
		}
		r.writeResult(pending[i], res)
	}
}

// writeResult stores one result below the target directory.
func (r *Runner) writeResult(file FileInfo, res compressor.CompressionResult) {
	targetPath := r.targetPath(file, res)

	if r.config.Security.DryRun {
		r.emit(logrus.InfoLevel, fmt.Sprintf("DRY-RUN: Would write %s -> %s (%d -> %d bytes)",
			file.Path, targetPath, res.OriginalSize, res.CompressedSize))
		return
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		r.fail(file.Path, "directory_creation", err)
		return
	}
	if err := writeFileAtomic(targetPath, res.CompressedImage.Data); err != nil {
		r.fail(file.Path, "write", err)
		return
	}
	r.stats.IncrementFilesWritten()

	// Only JPEG markers can be read back by the detector.
	if r.config.Processing.StampOutput && r.stamper != nil && !res.Passthrough() &&
		res.CompressedImage.MIMEType == payload.MIMEJPEG {
		if err := r.stamper.Stamp(targetPath); err != nil {
			logger.WithFileOperation(r.logger, targetPath, "stamp").Warnf("Could not stamp output: %v", err)
		}
	}

	msg := fmt.Sprintf("Compressed %s -> %s (%.1f%% saved)", file.Path, targetPath, res.CompressionRatio)
	if res.Passthrough() {
		msg = fmt.Sprintf("Kept original %s -> %s: %s", file.Path, targetPath, res.Error)
	}
	r.emit(logrus.InfoLevel, msg)
}

// targetPath maps a source file to its output path. Compressed outputs take the
// extension of their format; passthrough results keep the original name.
func (r *Runner) targetPath(file FileInfo, res compressor.CompressionResult) string {
	rel := file.RelPath
	if ext := res.CompressedImage.Extension(); ext != "" && !res.Passthrough() {
		rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ext
	}
	dir := file.OutDir
	if dir == "" {
		dir = r.config.GetTargetDirectory()
	}
	path := filepath.Join(dir, rel)

	if r.config.Processing.Overwrite && path != file.Path {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return path
	}
	return generateUniqueFilename(path)
}

// generateUniqueFilename returns a unique filename by adding a counter.
func generateUniqueFilename(basePath string) string {
	dir := filepath.Dir(basePath)
	name := filepath.Base(basePath)
	ext := filepath.Ext(name)
	nameWithoutExt := strings.TrimSuffix(name, ext)

	for counter := 1; ; counter++ {
		newPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, counter, ext))
		if _, err := os.Stat(newPath); errors.Is(err, fs.ErrNotExist) {
			return newPath
		}
	}
}

// writeFileAtomic writes through a temporary file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (r *Runner) fail(path, operation string, err error) {
	logger.WithFileOperation(r.logger, path, operation).Errorf("Operation failed: %v", err)
	r.stats.IncrementFilesWithErrors()
	r.stats.AddError(path, operation, err.Error())
	if r.logHook != nil {
		r.logHook("error", fmt.Sprintf("%s %s: %v", operation, path, err))
	}
}

func (r *Runner) emit(level logrus.Level, msg string) {
	r.logger.Log(level, msg)
	if r.logHook != nil {
		r.logHook(level.String(), msg)
	}
}
