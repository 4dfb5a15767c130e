// Package logging wires the process-wide zerolog logger. There is exactly
// one mutable package-level value (the logger itself, matching the teacher's
// convention) — everything else in the core takes a *zerolog.Logger or
// context.Context explicitly.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. If logPath is non-empty, logs
// are additionally written to that file (append mode); if opening the file
// fails, logging falls back to stdout only.
func Init(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = io.MultiWriter(os.Stdout, f)
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Logger()

	lvl := zerolog.InfoLevel
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)
}
