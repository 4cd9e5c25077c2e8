package log

import (
	"context"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	rootLogger = logrus.NewEntry(logrus.StandardLogger())

	// L accesses the current logger from the context
	L = loggerFromContext

	initAtLeastOnce atomic.Bool
)

type ctxLogKey struct{}

// Config controls the process-wide logger
type Config struct {
	Level      string
	Format     string // "simple" or "json"
	Output     string // "stdout", "stderr" or "file"
	File       FileConfig
	TimeFormat string
	UTC        bool
}

// FileConfig controls rotation when Output is "file"
type FileConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAge     time.Duration
	Compress   bool
}

// Defaults
const (
	DefaultLevel      = "info"
	DefaultFormat     = "simple"
	DefaultOutput     = "stderr"
	DefaultFilename   = "medchain.log"
	DefaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 2
	DefaultMaxAge     = 24 * time.Hour
)

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func InitConfig(conf *Config) {
	initAtLeastOnce.Store(true) // must store before SetLevel

	SetLevel(stringOr(conf.Level, DefaultLevel))

	switch stringOr(conf.Output, DefaultOutput) {
	case "file":
		filename := stringOr(conf.File.Filename, DefaultFilename)
		rootLogger.Infof("Logs diverted to %s", filename)
		maxSize := conf.File.MaxSizeMB
		if maxSize <= 0 {
			maxSize = DefaultMaxSizeMB
		}
		maxBackups := conf.File.MaxBackups
		if maxBackups <= 0 {
			maxBackups = DefaultMaxBackups
		}
		maxAge := conf.File.MaxAge
		if maxAge <= 0 {
			maxAge = DefaultMaxAge
		}
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     int(math.Ceil(float64(maxAge) / float64(time.Hour) / 24)), /* round up in days */
			Compress:   conf.File.Compress,
		})
	case "stdout":
		logrus.SetOutput(os.Stdout)
	default:
		logrus.SetOutput(os.Stderr)
	}

	timeFormat := stringOr(conf.TimeFormat, DefaultTimeFormat)
	switch stringOr(conf.Format, DefaultFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timeFormat})
	default:
		logrus.SetFormatter(&utcFormatter{
			Formatter: &prefixed.TextFormatter{
				TimestampFormat: timeFormat,
				FullTimestamp:   true,
				ForceFormatting: true,
			},
			utc: conf.UTC,
		})
	}
}

type utcFormatter struct {
	logrus.Formatter
	utc bool
}

func (f *utcFormatter) Format(e *logrus.Entry) ([]byte, error) {
	if f.utc {
		e.Time = e.Time.UTC()
	}
	return f.Formatter.Format(e)
}

func IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}

// EnsureInit applies the default configuration if InitConfig was never called,
// which is the normal case in unit tests
func EnsureInit() {
	if !initAtLeastOnce.Load() {
		InitConfig(&Config{})
	}
}

// WithLogger adds the specified logger to the context
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	EnsureInit()
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField adds the specified field to the logger in the context
func WithLogField(ctx context.Context, key, value string) context.Context {
	EnsureInit()
	if len(value) > 61 {
		value = value[0:61] + "..."
	}
	return WithLogger(ctx, loggerFromContext(ctx).WithField(key, value))
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(ctxLogKey{})
	if logger == nil {
		return rootLogger
	}
	return logger.(*logrus.Entry)
}

func GetLevel() string {
	switch logrus.GetLevel() {
	case logrus.ErrorLevel:
		return "error"
	case logrus.WarnLevel:
		return "warn"
	case logrus.DebugLevel:
		return "debug"
	case logrus.TraceLevel:
		return "trace"
	default:
		return "info"
	}
}

func SetLevel(level string) {
	var l logrus.Level
	switch strings.ToLower(level) {
	case "error":
		l = logrus.ErrorLevel
	case "warn", "warning":
		l = logrus.WarnLevel
	case "debug":
		l = logrus.DebugLevel
	case "trace":
		l = logrus.TraceLevel
	default:
		l = logrus.InfoLevel
	}
	logrus.SetLevel(l)
}
