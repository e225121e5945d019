package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, getLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, getLogLevel("warning"))
	assert.Equal(t, slog.LevelError, getLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, getLogLevel(""))
}

func TestJSONOutputInReleaseMode(t *testing.T) {
	gin.SetMode(gin.ReleaseMode)
	defer gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info").WithComponent("offers")
	l.LogOfferCreated(context.Background(), "e1", "s1", time.Unix(0, 0).UTC(), "freed_seat")

	out := buf.String()
	assert.Contains(t, out, `"msg":"Offer Created"`)
	assert.Contains(t, out, `"component":"offers"`)
	assert.Contains(t, out, `"entry_id":"e1"`)
}

func TestErrorWithContextIncludesFields(t *testing.T) {
	gin.SetMode(gin.ReleaseMode)
	defer gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug")
	l.ErrorWithContext(context.Background(), "notify failed", errors.New("broker down"),
		map[string]interface{}{"entry_id": "e9"})

	out := buf.String()
	assert.Contains(t, out, `"error":"broker down"`)
	assert.Contains(t, out, `"entry_id":"e9"`)
}

func TestDiscardDropsOutput(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().WithComponent("audit").Info("nothing")
	})
}
