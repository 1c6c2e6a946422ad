package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"go.opentelemetry.io/otel/trace"
)

// LogFormat selects the log output encoding
type LogFormat string

const (
	// FormatJSON emits one JSON object per line
	FormatJSON LogFormat = "json"

	// FormatConsole emits human-readable colored output
	FormatConsole LogFormat = "console"
)

// LogLevel is the minimum level that gets emitted
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config contains logger configuration
type Config struct {
	Level  LogLevel
	Format LogFormat

	// Annotate each entry with the calling file and line
	IncludeCaller bool

	// Marshal error stack traces into log entries
	IncludeStacktrace bool

	// Destination writer, defaults to os.Stdout
	Output io.Writer

	// Fields stamped onto every entry
	GlobalFields map[string]string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Level:             LevelInfo,
		Format:            FormatJSON,
		IncludeCaller:     true,
		IncludeStacktrace: true,
		Output:            os.Stdout,
		GlobalFields:      map[string]string{},
	}
}

// Setup configures the process-wide zerolog logger. Every component logger
// derives from the global one, so this runs before anything else starts.
func Setup(config Config) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := config.Output
	if output == nil {
		output = os.Stdout
	}
	if config.Format == FormatConsole {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	if config.IncludeStacktrace {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	}

	builder := zerolog.New(output).With().Timestamp()
	if config.IncludeCaller {
		builder = builder.Caller()
	}
	for k, v := range config.GlobalFields {
		builder = builder.Str(k, v)
	}
	log.Logger = builder.Logger()

	level, err := parseLevel(config.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	return nil
}

func parseLevel(level LogLevel) (zerolog.Level, error) {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel, nil
	case LevelInfo:
		return zerolog.InfoLevel, nil
	case LevelWarn:
		return zerolog.WarnLevel, nil
	case LevelError:
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// FromContext returns the context's logger, annotated with the active
// trace and span ids when a valid span is present. Contexts without an
// attached logger fall back to the global one, so call sites never log
// into the void.
func FromContext(ctx context.Context) zerolog.Logger {
	logger := log.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	builder := logger.With()

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		builder = builder.
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String())
	}

	return builder.Logger()
}
