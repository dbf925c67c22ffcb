package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

var level slog.LevelVar

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Setup installs a tint handler writing to w as the default slog logger.
func Setup(w io.Writer, lvl string, noColor bool) error {
	parsed, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.Set(parsed)

	slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{
		Level:      &level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})))
	return nil
}

// SetLevel changes the level of the handler installed by Setup.
func SetLevel(lvl string) error {
	parsed, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.Set(parsed)
	return nil
}
