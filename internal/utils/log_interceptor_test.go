package utils

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogInterceptor_PrefixesCompleteLines(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)
	li.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	_, err := li.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, "line=1 time=2024-01-02T03:04:05Z first\n", out.String())

	_, err = li.Write([]byte("ond\n"))
	require.NoError(t, err)
	_, err = li.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, li.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "line=2 "))
	assert.True(t, strings.HasSuffix(lines[1], " second"))
	assert.True(t, strings.HasSuffix(lines[2], " tail"))
}

func TestMultiLogHandler_FansOutByLevel(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	debugHandler := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiLogHandler(debugHandler, infoHandler)).With("vault", "v1")
	logger.Debug("only debug")
	logger.Info("both")

	assert.Contains(t, debugBuf.String(), "only debug")
	assert.Contains(t, debugBuf.String(), "both")
	assert.NotContains(t, infoBuf.String(), "only debug")
	assert.Contains(t, infoBuf.String(), "vault=v1")

	h := NewMultiLogHandler(infoHandler)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}
