package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "1.2.0", Normalize("v1.2"))
	assert.Equal(t, "0.3.1-rc.1", Normalize("0.3.1-rc.1"))
	assert.Equal(t, "dev", Normalize("dev"))
}

func TestInfo(t *testing.T) {
	info := Info{Version: "1.4.0", CommitHash: "abcdef1234", BuildTime: "2026-01-01"}
	assert.True(t, info.Tagged())
	assert.Equal(t, "abcdef1", info.Short())
	assert.Contains(t, info.String(), "hydrotrace 1.4.0")

	ok, err := info.Satisfies(">= 1.2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = info.Satisfies("< 1.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = info.Satisfies("not a constraint")
	assert.Error(t, err)

	dev := Info{Version: "dev", CommitHash: "dev"}
	assert.False(t, dev.Tagged())
	assert.Contains(t, dev.String(), "hydrotrace dev")
	ok, err = dev.Satisfies(">= 0.0.0")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "dev", dev.Short())
}
