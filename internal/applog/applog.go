// Package applog builds the per-component loggers of the watchfolio process.
//
// Output goes to stderr and, when a log file is configured, to a rotating
// file as well.
package applog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process log output.
type Options struct {
	// File is the rotating log file. Empty disables file logging.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Quiet drops console output; only the file receives log lines.
	Quiet bool

	// Console defaults to os.Stderr.
	Console io.Writer
}

// Output is the shared destination of every component logger.
type Output struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Open creates the log output described by opts.
func Open(opts Options) (*Output, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if opts.Quiet {
		console = io.Discard
	}
	if opts.File == "" {
		return &Output{w: console}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 28
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return &Output{w: io.MultiWriter(console, file), file: file}, nil
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Logger returns a logger for component, prefixed "[component] ".
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
