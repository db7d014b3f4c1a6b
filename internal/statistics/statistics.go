package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"photo-press-go/internal/compressor"
)

// Statistics contains all statistics for a compression run.
type Statistics struct {
	TotalFilesFound    int64
	FilesProcessed     int64
	FilesCompressed    int64
	FilesPassedThrough int64
	FilesSkipped       int64
	FilesWritten       int64
	FilesWithErrors    int64

	FormatFallbacks   int64
	BudgetMisses      int64
	QualityReductions int64

	BytesIn  int64
	BytesOut int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	FormatStats map[string]int64

	mutex sync.RWMutex
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy suitable for JSON responses.
type Snapshot struct {
	FilesFound        int64            `json:"files_found"`
	FilesProcessed    int64            `json:"files_processed"`
	FilesCompressed   int64            `json:"files_compressed"`
	FilesPassed       int64            `json:"files_passed_through"`
	FilesSkipped      int64            `json:"files_skipped"`
	FilesWritten      int64            `json:"files_written"`
	FilesWithErrors   int64            `json:"files_with_errors"`
	FormatFallbacks   int64            `json:"format_fallbacks"`
	BudgetMisses      int64            `json:"budget_misses"`
	QualityReductions int64            `json:"quality_reductions"`
	BytesIn           int64            `json:"bytes_in"`
	BytesOut          int64            `json:"bytes_out"`
	SavedPercent      float64          `json:"saved_percent"`
	Formats           map[string]int64 `json:"formats"`
	Summary           string           `json:"summary"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// AddFilesFound increases the count of discovered files.
func (s *Statistics) AddFilesFound(n int) {
	atomic.AddInt64(&s.TotalFilesFound, int64(n))
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesWritten increases the count of written outputs by 1.
func (s *Statistics) IncrementFilesWritten() {
	atomic.AddInt64(&s.FilesWritten, 1)
}

// IncrementFilesWithErrors increases the count of files with errors by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// RecordResult folds one pipeline result into the counters. requested is the
// format the caller asked for and budget the byte budget it was given.
func (s *Statistics) RecordResult(res compressor.CompressionResult, requested compressor.Format, budget int64) {
	atomic.AddInt64(&s.FilesProcessed, 1)
	atomic.AddInt64(&s.BytesIn, res.OriginalSize)
	atomic.AddInt64(&s.BytesOut, res.CompressedSize)

	if res.Passthrough() {
		atomic.AddInt64(&s.FilesPassedThrough, 1)
		return
	}

	atomic.AddInt64(&s.FilesCompressed, 1)
	atomic.AddInt64(&s.QualityReductions, int64(res.Attempts))
	if requested == compressor.FormatWebP && res.Format != compressor.FormatWebP {
		atomic.AddInt64(&s.FormatFallbacks, 1)
	}
	if res.CompressedSize > budget {
		atomic.AddInt64(&s.BudgetMisses, 1)
	}

	s.mutex.Lock()
	s.FormatStats[string(res.Format)]++
	s.mutex.Unlock()
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	processed := atomic.LoadInt64(&s.FilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(processed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// SavedPercent returns the overall size reduction. It is negative when the
// outputs are larger than the inputs.
func (s *Statistics) SavedPercent() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	if in == 0 {
		return 0
	}
	return float64(in-out) / float64(in) * 100
}

// Snapshot returns a consistent copy of the counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	formats := make(map[string]int64, len(s.FormatStats))
	for k, v := range s.FormatStats {
		formats[k] = v
	}
	s.mutex.RUnlock()

	return Snapshot{
		FilesFound:        atomic.LoadInt64(&s.TotalFilesFound),
		FilesProcessed:    atomic.LoadInt64(&s.FilesProcessed),
		FilesCompressed:   atomic.LoadInt64(&s.FilesCompressed),
		FilesPassed:       atomic.LoadInt64(&s.FilesPassedThrough),
		FilesSkipped:      atomic.LoadInt64(&s.FilesSkipped),
		FilesWritten:      atomic.LoadInt64(&s.FilesWritten),
		FilesWithErrors:   atomic.LoadInt64(&s.FilesWithErrors),
		FormatFallbacks:   atomic.LoadInt64(&s.FormatFallbacks),
		BudgetMisses:      atomic.LoadInt64(&s.BudgetMisses),
		QualityReductions: atomic.LoadInt64(&s.QualityReductions),
		BytesIn:           atomic.LoadInt64(&s.BytesIn),
		BytesOut:          atomic.LoadInt64(&s.BytesOut),
		SavedPercent:      s.SavedPercent(),
		Formats:           formats,
		Summary:           s.GetSummary(),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	filesPerSecond := s.FilesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`Photo Press Statistics Summary:

Files:
		Found: %d
		Processed: %d
		Compressed: %d
		Kept Original: %d
		Skipped (already marked): %d
		Written: %d
		Errors: %d

Encoding:
		Format Fallbacks: %d
		Over Budget: %d
		Quality Reductions: %d

Size:
		Input: %s
		Output: %s
		Saved: %.1f%%

Performance:
		Duration: %v
		Files/Second: %.2f`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.FilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesPassedThrough),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesWritten),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.FormatFallbacks),
		atomic.LoadInt64(&s.BudgetMisses),
		atomic.LoadInt64(&s.QualityReductions),
		humanize.IBytes(uint64(atomic.LoadInt64(&s.BytesIn))),
		humanize.IBytes(uint64(atomic.LoadInt64(&s.BytesOut))),
		s.SavedPercent(),
		duration,
		filesPerSecond)
}

// GetFormatBreakdown returns a formatted breakdown of output formats.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	formats := make([]string, 0, len(s.FormatStats))
	for f := range s.FormatStats {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	var b strings.Builder
	b.WriteString("Output Formats:\n")
	for _, f := range formats {
		fmt.Fprintf(&b, "  %s: %d\n", f, s.FormatStats[f])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}
