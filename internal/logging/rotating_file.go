// file: internal/logging/rotating_file.go
package logging

import (
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingFileOptions configures a size- and age-based rotating log file,
// mirroring the fields codesjoy-yggdrasil's logger/writer.go exposes for its
// lumberjack-backed file sink.
type RotatingFileOptions struct {
	// Path is the log file path; directories are created by lumberjack as needed.
	Path string
	// MaxSizeMB is the maximum size in megabytes before a log file is rotated.
	MaxSizeMB int
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int
	// MaxAgeDays is the maximum number of days to retain old log files.
	MaxAgeDays int
	// Compress determines whether rotated log files are gzip-compressed.
	Compress bool
}

// NewRotatingFileLogger returns a component logger backed by a rotating log
// file instead of the package-level default writer. Use this when a Fast
// server process wants its own independently-rotated log file rather than
// sharing stderr with the rest of a host application.
func NewRotatingFileLogger(component string, opts RotatingFileOptions) Logger {
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return &jsonLogger{
		out:    lj,
		mu:     &defaultFileMu,
		fields: map[string]any{"component": component},
	}
}

var defaultFileMu sync.Mutex
