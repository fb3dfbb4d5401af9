package logging_test

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"taskroom/internal/logging"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.WithField("room_id", "r1").Debug("hello")
	require.Contains(t, buf.String(), `"room_id":"r1"`)
	require.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := logging.New(logging.Config{Level: "loud"})
	require.Error(t, err)
	_, err = logging.New(logging.Config{Format: "xml"})
	require.Error(t, err)
}
