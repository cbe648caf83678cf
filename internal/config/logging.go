package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// Rotating File Writer
// =============================================================================

// RotatingFileWriter implements io.Writer with log rotation by file size.
// When the current file would exceed maxBytes it is rotated to .1, .2, etc.
// and the oldest backup beyond backupCount is dropped.
type RotatingFileWriter struct {
	mu          sync.Mutex
	path        string
	maxBytes    int
	backupCount int
	file        *os.File
	currentSize int64

	// fallback takes the output once reopening after a rotation failed.
	fallback io.Writer
	failed   bool
}

// NewRotatingFileWriter creates a new rotating file writer.
// maxBytes <= 0 disables rotation (single unbounded file).
func NewRotatingFileWriter(path string, maxBytes, backupCount int) (*RotatingFileWriter, error) {
	dir := filepath.Dir(path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: create log dir: %w", err)
		}
	}

	rw := &RotatingFileWriter{
		path:        path,
		maxBytes:    maxBytes,
		backupCount: backupCount,
		fallback:    os.Stderr,
	}

	if err := rw.openFile(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingFileWriter) openFile() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("config: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	rw.file = f
	rw.currentSize = info.Size()
	return nil
}

// Write implements io.Writer. It writes p to the current log file,
// rotating first if the write would exceed MaxBytes.
func (rw *RotatingFileWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil && rw.maxBytes > 0 && rw.currentSize+int64(len(p)) > int64(rw.maxBytes) {
		rw.rotate()
	}
	if rw.failed {
		return rw.fallback.Write(p)
	}
	if rw.file == nil {
		return 0, os.ErrClosed
	}
	n, err := rw.file.Write(p)
	rw.currentSize += int64(n)
	return n, err
}

// Sync flushes the current file to disk. It lets the writer serve as a
// zapcore.WriteSyncer.
func (rw *RotatingFileWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file != nil {
		return rw.file.Sync()
	}
	return nil
}

// Close closes the underlying file.
func (rw *RotatingFileWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file != nil {
		err := rw.file.Close()
		rw.file = nil
		return err
	}
	return nil
}

// rotate performs log rotation: file -> file.1, file.1 -> file.2, etc.
func (rw *RotatingFileWriter) rotate() {
	rw.file.Close()

	// Shift existing backups
	for i := rw.backupCount; i > 0; i-- {
		src := rw.path
		if i > 1 {
			src = fmt.Sprintf("%s.%d", rw.path, i-1)
		}
		dst := fmt.Sprintf("%s.%d", rw.path, i)
		os.Remove(dst)
		os.Rename(src, dst)
	}

	// Open fresh file
	if err := rw.openFile(); err != nil {
		rw.file = nil
		rw.failed = true
		fmt.Fprintf(rw.fallback, "config: failed to reopen log file after rotation, logging to stderr: %v\n", err)
	}
}

// =============================================================================
// Logger
// =============================================================================

// NewLogger builds the process logger from the [logging] section: a
// console core on stdout and a JSON core on the rotating file, teed
// together. An unparsable level falls back to INFO and is reported as an
// error alongside a working logger.
//
// Returns a cleanup function that should be called on shutdown.
func NewLogger(cfg LoggingConfig) (*zap.Logger, func(), error) {
	var levelErr error
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
		levelErr = fmt.Errorf("config: log level %q: %w", cfg.Level, err)
	}

	var cores []zapcore.Core
	var closers []func() error

	if cfg.File != "" {
		rw, err := NewRotatingFileWriter(cfg.File, cfg.MaxBytes, cfg.BackupCount)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: file logging disabled: %v\n", err)
		} else {
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), rw, level))
			closers = append(closers, rw.Close)
		}
	}

	// Fallback: if no file, log to stdout regardless of the setting.
	if cfg.Stdout || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), zapcore.Lock(os.Stdout), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	cleanup := func() {
		_ = logger.Sync()
		for _, c := range closers {
			_ = c()
		}
	}
	return logger, cleanup, levelErr
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func fileEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
