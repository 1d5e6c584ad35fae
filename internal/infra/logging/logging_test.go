package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.WithField("message_id", "m-1").Debug("callback stored")
	out := buf.String()
	require.True(t, strings.Contains(out, `"message_id":"m-1"`), out)
	require.True(t, strings.Contains(out, `"level":"debug"`), out)
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := NewWithWriter(Config{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
	_, err = NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestNopDiscards(t *testing.T) {
	entry := Nop()
	entry.Error("ignored")
	require.NotNil(t, entry.Logger)
}
