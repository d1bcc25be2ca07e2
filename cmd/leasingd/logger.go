package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"

	"github.com/arloliu/leasing"
	"github.com/arloliu/leasing/internal/logging"
)

// newLogger creates a [log.Logger] writing to w with timestamps enabled.
func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	return log.NewWithOptions(w, log.Options{ReportTimestamp: true})
}

// libraryLogger adapts l to the leasing.Logger interface through slog.
func libraryLogger(l *log.Logger) leasing.Logger {
	return logging.NewSlog(slog.New(l))
}
