package metadata

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/errors"
)

// tripAfter consecutive failed artifacts opens the breaker. An artifact
// fails once both the full and the minimal tag set were rejected.
const tripAfter = 10

// ExifTool is a Writer backed by one long-lived exiftool process.
// Writes are serialized; when the process keeps failing the breaker opens
// and writes fail fast until it half-opens again.
type ExifTool struct {
	mu      sync.Mutex
	et      *exiftool.Exiftool
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	// apply writes one tag set; replaced in tests
	apply func(path string, tags map[string]any) error
}

// NewExifTool starts exiftool. binaryPath may be empty to use the one on PATH.
func NewExifTool(binaryPath string, logger *zap.Logger) (*ExifTool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []func(*exiftool.Exiftool) error
	if binaryPath != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(binaryPath))
	}
	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, errors.NewFatal("cannot start exiftool (install it, pass --exiftool-path, or use --no-metadata)", err)
	}

	w := &ExifTool{et: et, logger: logger, breaker: newBreaker(logger)}
	w.apply = w.writeTags
	return w, nil
}

func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exiftool",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("tag writer breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Write tags path with the full set for its format, retrying once with
// the minimal set.
func (w *ExifTool) Write(ctx context.Context, path string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := w.breaker.Execute(func() (any, error) {
		err := w.apply(path, Tags(path, rec, false))
		if err == nil {
			return nil, nil
		}
		w.logger.Debug("full tag set rejected, retrying with minimal set",
			zap.String("path", path), zap.Error(err))
		return nil, w.apply(path, Tags(path, rec, true))
	})
	if err != nil {
		return errors.NewTagWrite(path, err)
	}
	return nil
}

func (w *ExifTool) writeTags(path string, tags map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	for k, v := range tags {
		switch v := v.(type) {
		case string:
			fm.SetString(k, v)
		case float64:
			fm.SetFloat(k, v)
		}
	}
	batch := []exiftool.FileMetadata{fm}
	w.et.WriteMetadata(batch)
	// exiftool leaves a backup next to the file unless told to overwrite
	_ = os.Remove(path + "_original")
	return batch[0].Err
}

// Close stops the exiftool process.
func (w *ExifTool) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.et.Close()
}
