package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ovillere/dinerate/internal/config"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "dinerate").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID := c.GetString("request_id")

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// SecurityEvent is a structured audit record for rejected or flagged
// rating submissions. Identity is stored partially masked and free-text
// fields truncated before logging.
type SecurityEvent struct {
	EventType    string `json:"event_type"`
	PseudonymID  string `json:"pseudonym_id"`
	RestaurantID string `json:"restaurant_id,omitempty"`
	ClientIP     string `json:"client_ip,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Stage        string `json:"stage,omitempty"`
	Details      string `json:"details,omitempty"`
}

// LogSecurityEvent logs a security event. It is best-effort: it must
// never fail the calling operation, so any panic is swallowed.
func LogSecurityEvent(ev SecurityEvent) {
	defer func() {
		_ = recover()
	}()

	log.Warn().
		Str("event_type", ev.EventType).
		Str("pseudonym_id", MaskIdentity(ev.PseudonymID)).
		Str("restaurant_id", ev.RestaurantID).
		Str("client_ip", ev.ClientIP).
		Str("request_id", ev.RequestID).
		Str("stage", ev.Stage).
		Str("details", SanitizeForLog(ev.Details, 200)).
		Msg("Security event")
}

// LogError logs an error with context
func LogError(err error, requestID, component, operation string) {
	log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("component", component).
		Str("operation", operation).
		Msg("Error occurred")
}

// SanitizeForLog removes newlines and truncates data for logging
func SanitizeForLog(data string, maxLen int) string {
	data = strings.ReplaceAll(data, "\n", " ")
	data = strings.ReplaceAll(data, "\r", " ")
	if len(data) > maxLen {
		return data[:maxLen] + "...[truncated]"
	}
	return data
}

// MaskIdentity keeps a recognizable prefix of a pseudonym for
// correlation while hiding the full value.
func MaskIdentity(pseudonymID string) string {
	if len(pseudonymID) <= 8 {
		return pseudonymID
	}
	return pseudonymID[:8] + "..."
}
