package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// callerWidth pads file:line so messages line up in the console.
const callerWidth = 28

// NewLogger returns a zerolog logger configured for console output.
func NewLogger() zerolog.Logger {
	return New(os.Stdout, zerolog.InfoLevel)
}

// New returns a console logger writing to out at the given level.
func New(out io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.CallerMarshalFunc = shortCaller
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
}

func shortCaller(_ uintptr, file string, line int) string {
	return fmt.Sprintf("%-*s", callerWidth, filepath.Base(file)+":"+strconv.Itoa(line))
}

// ParseLevel parses a level name, falling back to info for unknown names.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}
