package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	log, err := New("ingest-api", "debug", "console")
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zap.DebugLevel))

	log, err = New("loader", "warn", "json")
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zap.InfoLevel))

	_, err = New("x", "loud", "json")
	require.Error(t, err)
	_, err = New("x", "info", "xml")
	require.Error(t, err)
}
