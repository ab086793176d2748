package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newWithOutput(&buf, "warn", "json")

	l.Info("dropped")
	Component(l, "scheduler").WithField("auction_id", 7).Warn("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "kept", line["msg"])
	require.Equal(t, "scheduler", line["component"])
	require.EqualValues(t, 7, line["auction_id"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := newWithOutput(&bytes.Buffer{}, "loud", "text")
	require.Equal(t, log.InfoLevel, l.GetLevel())
	_, ok := l.Formatter.(*log.TextFormatter)
	require.True(t, ok)
}
