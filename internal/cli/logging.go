package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// parseLevel maps a --log-level value to a slog level.
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
	}
	return level, nil
}

// newLogHandler returns the tint handler used by every command.
func newLogHandler(w io.Writer, level slog.Leveler, noColor bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:       level,
		TimeFormat:  "15:04:05.000",
		NoColor:     noColor,
		ReplaceAttr: dropEmptyAttr,
	})
}

// dropEmptyAttr omits attributes carrying a zero value.
func dropEmptyAttr(groups []string, a slog.Attr) slog.Attr {
	switch v := a.Value.Any().(type) {
	case nil:
		return slog.Attr{}
	case string:
		if v == "" {
			return slog.Attr{}
		}
	case time.Duration:
		if v == 0 && a.Key != slog.TimeKey {
			return slog.Attr{}
		}
	}
	return a
}

// setupLogging installs the default logger on stderr. verbose forces the
// debug level.
func setupLogging(levelName string, verbose bool) error {
	level, err := parseLevel(levelName)
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}

	w := colorable.NewColorable(os.Stderr)
	noColor := !isatty.IsTerminal(os.Stderr.Fd())
	slog.SetDefault(slog.New(newLogHandler(w, level, noColor)))
	return nil
}
