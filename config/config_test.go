package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]string{"--datadir=" + t.TempDir()})
	require.NoError(t, err)

	require.Equal(t, defaultSafetyMargin, cfg.SafetyMargin)
	require.Equal(t, defaultPollInterval, cfg.PollInterval)
	require.Equal(t, defaultDebugLevel, cfg.DebugLevel)
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{
		"--datadir=" + t.TempDir(),
		"--safetymargin=1h",
		"--bitcoin.active",
		"--bitcoin.rpchost=127.0.0.1:18332",
	})
	require.NoError(t, err)

	require.Equal(t, time.Hour, cfg.SafetyMargin)
	require.True(t, cfg.Bitcoin.Active)
	require.Equal(t, "127.0.0.1:18332", cfg.Bitcoin.RPCHost)
}
