package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance
func New() *Logger {
	return NewWithWriter(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// NewWithWriter creates a logger writing to w at the given level
func NewWithWriter(w io.Writer, levelStr string) *Logger {
	level := getLogLevel(levelStr)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Text for development, JSON for production
	var handler slog.Handler
	if gin.Mode() == gin.DebugMode {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// getLogLevel converts string to slog.Level
func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent tags every record with the emitting engine component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", component)),
	}
}

// HTTP logging methods

// LogHTTPRequest logs an HTTP request
func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	l.Logger.InfoContext(c.Request.Context(),
		"HTTP Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", c.GetString("request_id")),
		slog.Int("size", c.Writer.Size()),
	)
}

// LogHTTPError logs an HTTP error
func (l *Logger) LogHTTPError(c *gin.Context, err error, statusCode int) {
	l.Logger.ErrorContext(c.Request.Context(),
		"HTTP Error",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", statusCode),
		slog.String("error", err.Error()),
		slog.String("ip", c.ClientIP()),
	)
}

// Engine logging methods

// LogBookingConfirmed logs a confirmed seat
func (l *Logger) LogBookingConfirmed(ctx context.Context, bookingID, sessionID, participantID, source string) {
	l.Logger.InfoContext(ctx,
		"Booking Confirmed",
		slog.String("booking_id", bookingID),
		slog.String("session_id", sessionID),
		slog.String("participant_id", participantID),
		slog.String("source", source),
	)
}

// LogBookingQueued logs a booking attempt that joined the waitlist
func (l *Logger) LogBookingQueued(ctx context.Context, entryID, sessionID, participantID string, position int) {
	l.Logger.InfoContext(ctx,
		"Booking Queued",
		slog.String("entry_id", entryID),
		slog.String("session_id", sessionID),
		slog.String("participant_id", participantID),
		slog.Int("position", position),
	)
}

// LogBookingCancelled logs when a booking is cancelled
func (l *Logger) LogBookingCancelled(ctx context.Context, bookingID, sessionID, participantID string) {
	l.Logger.InfoContext(ctx,
		"Booking Cancelled",
		slog.String("booking_id", bookingID),
		slog.String("session_id", sessionID),
		slog.String("participant_id", participantID),
	)
}

// LogOfferCreated logs a new time-bounded offer
func (l *Logger) LogOfferCreated(ctx context.Context, entryID, sessionID string, expiresAt time.Time, trigger string) {
	l.Logger.InfoContext(ctx,
		"Offer Created",
		slog.String("entry_id", entryID),
		slog.String("session_id", sessionID),
		slog.Time("offer_expires_at", expiresAt),
		slog.String("trigger", trigger),
	)
}

// LogOfferExpired logs an offer that lapsed
func (l *Logger) LogOfferExpired(ctx context.Context, entryID, sessionID, policy string) {
	l.Logger.InfoContext(ctx,
		"Offer Expired",
		slog.String("entry_id", entryID),
		slog.String("session_id", sessionID),
		slog.String("policy", policy),
	)
}

// LogInvalidTransition records a rejected transition for audit
func (l *Logger) LogInvalidTransition(ctx context.Context, entryID, from, to string) {
	l.Logger.WarnContext(ctx,
		"Invalid Transition",
		slog.String("entry_id", entryID),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// LogInvariantViolation logs an audit finding
func (l *Logger) LogInvariantViolation(ctx context.Context, sessionID, invariant, detail string) {
	l.Logger.ErrorContext(ctx,
		"Invariant Violation",
		slog.String("session_id", sessionID),
		slog.String("invariant", invariant),
		slog.String("detail", detail),
	)
}

// LogRateLimitExceeded logs rate limit exceeded
func (l *Logger) LogRateLimitExceeded(ctx context.Context, ip, endpoint string) {
	l.Logger.WarnContext(ctx,
		"Rate Limit Exceeded",
		slog.String("ip", ip),
		slog.String("endpoint", endpoint),
	)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.InfoContext(ctx, msg, args...)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2+2)
	args = append(args, slog.String("error", err.Error()))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.ErrorContext(ctx, msg, args...)
}

// defaultLogger backs call sites that run before the engine is wired
var defaultLogger = New()

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger instance
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
