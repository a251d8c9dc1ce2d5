package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFromEnvWithoutTokenReturnsNilSink(t *testing.T) {
	s, err := NewFromEnv("", "")
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestNewFromEnvRejectsInvalidChatID(t *testing.T) {
	s, err := NewFromEnv("some-token", "not-a-number")
	require.Error(t, err)
	require.Nil(t, s)
}

func TestFormatAlertKnownLevels(t *testing.T) {
	require.Contains(t, formatAlert("warning", "margin at 72%"), "⚠️")
	require.Contains(t, formatAlert("warning", "margin at 72%"), "margin at 72%")
	require.Contains(t, formatAlert("critical", "halted"), "🚨")
	require.Contains(t, formatAlert("info", "resumed"), "ℹ️")
}

func TestFormatAlertUnknownLevelFallsBackToBellEmoji(t *testing.T) {
	require.Contains(t, formatAlert("debug", "noop"), "🔔")
}
