package logger_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/fwojciec/relay/logger"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json with service", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		l := logger.New(logger.Config{Level: "info", Service: "relay"}, &buf)
		l.Info().Msg("hello")
		l.Debug().Msg("hidden")

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		assert.Len(t, lines, 1)
		assert.Equal(t, "relay", gjson.GetBytes(lines[0], "service").String())
		assert.Equal(t, "hello", gjson.GetBytes(lines[0], "message").String())
	})

	t.Run("levels", func(t *testing.T) {
		t.Parallel()
		tests := map[string]zerolog.Level{
			"debug":   zerolog.DebugLevel,
			"WARN":    zerolog.WarnLevel,
			"warning": zerolog.WarnLevel,
			"error":   zerolog.ErrorLevel,
			"":        zerolog.InfoLevel,
			"bogus":   zerolog.InfoLevel,
		}
		for in, want := range tests {
			assert.Equal(t, want, logger.New(logger.Config{Level: in}, &bytes.Buffer{}).GetLevel(), in)
		}
	})

	t.Run("console format", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger.New(logger.Config{Format: "console"}, &buf).Info().Msg("hello")
		assert.Contains(t, buf.String(), "hello")
		assert.False(t, gjson.Valid(buf.String()))
	})
}

func TestWithRequestID(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := logger.New(logger.Config{}, &buf).WithContext(context.Background())

	ctx = logger.WithRequestID(ctx, "req-1")
	zerolog.Ctx(ctx).Info().Msg("handled")

	assert.Equal(t, "req-1", logger.RequestID(ctx))
	assert.Equal(t, "req-1", gjson.GetBytes(bytes.TrimSpace(buf.Bytes()), "request_id").String())
	assert.Empty(t, logger.RequestID(context.Background()))
}
