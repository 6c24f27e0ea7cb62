// Package log builds the process logger from the persistent logging flags.
package log

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	slogcontext "github.com/veqryn/slog-context"
)

const (
	LevelFlag  = "loglevel"
	FormatFlag = "logformat"
)

var (
	levels  = []string{"info", "debug", "warn", "error"}
	formats = []string{"text", "json"}
)

func RegisterLoggingFlags(cmd *cobra.Command) {
	enumVar(cmd.PersistentFlags(), LevelFlag, "l", levels, "set the log level (debug, info, warn, error)")
	enumVar(cmd.PersistentFlags(), FormatFlag, "f", formats, "set the log format (text, json)")
}

// GetBaseLogger returns a logger writing to the error output of cmd. Attributes stored
// in a context with slog-context are added to every record logged with that context.
func GetBaseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	logLevel, err := GetLoggerLevel(cmd)
	if err != nil {
		return nil, err
	}

	format := cmd.Flag(FormatFlag).Value.String()
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	case "text":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return slog.New(slogcontext.NewHandler(handler, nil)), nil
}

func GetLoggerLevel(cmd *cobra.Command) (slog.Level, error) {
	flag := cmd.Flag(LevelFlag)
	if flag == nil {
		return slog.LevelInfo, fmt.Errorf("flag accessed but not defined: %s", LevelFlag)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(flag.Value.String())); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", flag.Value.String())
	}
	return level, nil
}

// enumValue is a string flag restricted to a fixed set of values. The first value is
// the default.
type enumValue struct {
	value   string
	allowed []string
}

func enumVar(f *pflag.FlagSet, name, shorthand string, allowed []string, usage string) {
	f.VarP(&enumValue{value: allowed[0], allowed: allowed}, name, shorthand, usage)
}

func (e *enumValue) String() string {
	return e.value
}

func (e *enumValue) Set(s string) error {
	s = strings.ToLower(s)
	if !slices.Contains(e.allowed, s) {
		return fmt.Errorf("must be one of %s", strings.Join(e.allowed, ", "))
	}
	e.value = s
	return nil
}

func (e *enumValue) Type() string {
	return "enum"
}
