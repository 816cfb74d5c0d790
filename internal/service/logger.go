package core

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"kadmin/pkg/config"
)

// LogConfig holds the logging configuration
type LogConfig = config.LogConfig

// requestIDHeader lets callers correlate their own ids with ours
const requestIDHeader = "X-Request-ID"

// DefaultLogConfig returns a LogConfig writing json to stdout
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		FilePath:   "logs/kadmin.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

// SetupLogger configures the global zerolog logger based on LogConfig
func SetupLogger(cfg *LogConfig) error {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	switch cfg.Output {
	case "file":
		fileWriter, err := buildFileWriter(cfg)
		if err != nil {
			return err
		}
		writers = append(writers, fileWriter)
	case "both":
		fileWriter, err := buildFileWriter(cfg)
		if err != nil {
			return err
		}
		writers = append(writers, buildStdoutWriter(cfg.Format), fileWriter)
	default:
		writers = append(writers, buildStdoutWriter(cfg.Format))
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Caller().Logger()

	log.Info().
		Str("level", level.String()).
		Str("format", cfg.Format).
		Str("output", cfg.Output).
		Msg("Logger initialized")
	return nil
}

func buildStdoutWriter(format string) io.Writer {
	if format == "console" {
		return zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}
	return os.Stdout
}

// buildFileWriter creates a lumberjack rotated file writer
func buildFileWriter(cfg *LogConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}, nil
}

// RequestLogger returns a gin middleware that tags each request with an id and logs its outcome
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("response_size", c.Writer.Size()).
			Msg("HTTP request")

		for _, e := range c.Errors {
			log.Error().
				Str("request_id", requestID).
				Err(e.Err).
				Msg("Request error")
		}
	}
}

// GetLogger returns a logger with the given component name
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRequestID returns a logger carrying the request id of c
func WithRequestID(c *gin.Context) zerolog.Logger {
	return log.With().Str("request_id", getRequestID(c)).Logger()
}
