package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CALAMUS_GC_STRESS", "true")
	t.Setenv("CALAMUS_GC_LOG", "true")
	t.Setenv("CALAMUS_GC_NEXT", "4096")
	t.Setenv("CALAMUS_SUPPRESS_PRINT", "true")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.GCStress)
	assert.True(t, cfg.GCLog)
	assert.Equal(t, 4096, cfg.GCInitialNext)
	assert.True(t, cfg.SuppressPrint)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.GCStress)
	assert.Equal(t, 1<<20, cfg.GCInitialNext)

	m := New(cfg)
	assert.Equal(t, 1<<20, m.nextGC)
}

func TestConfigInvalidEnv(t *testing.T) {
	t.Setenv("CALAMUS_GC_NEXT", "not-a-number")
	_, err := ConfigFromEnv()
	assert.Error(t, err)
}
