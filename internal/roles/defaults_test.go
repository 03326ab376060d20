package roles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsForRoleKnownRoles(t *testing.T) {
	planning := DefaultsForRole("planning")
	assert.InDelta(t, 0.3, planning.Temperature, 1e-9)
	assert.Equal(t, 1024, planning.MaxTokens)

	acting := DefaultsForRole("acting")
	assert.InDelta(t, 0.1, acting.Temperature, 1e-9)
	assert.Equal(t, 2048, acting.MaxTokens)

	validation := DefaultsForRole("validation")
	assert.Zero(t, validation.Temperature)
	assert.Zero(t, validation.TopK, "validation carries no top_k")
	assert.Equal(t, 512, validation.MaxTokens)
}

func TestDefaultsForRoleNormalizesAndFallsBack(t *testing.T) {
	assert.Equal(t, DefaultsForRole("planning"), DefaultsForRole("  Planning "))
	assert.Equal(t, DefaultsForRole("acting"), DefaultsForRole("no-such-role"))
}

func TestModelLimits(t *testing.T) {
	ctx, _ := ModelLimits()
	assert.Greater(t, ctx, 0)
}

func TestReloadPicksUpEnvConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	cfg := `
sampling:
  planning:
    temperature: 0.7
    top_p: 0.95
    top_k: 100
    max_tokens: 4096
model:
  context_window: 200000
  supports_top_k: true
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	t.Setenv("ROLES_CONFIG_PATH", path)
	Reload()
	t.Cleanup(func() {
		os.Unsetenv("ROLES_CONFIG_PATH")
		Reload()
	})

	d := DefaultsForRole("planning")
	assert.InDelta(t, 0.7, d.Temperature, 1e-9)
	assert.Equal(t, 100, d.TopK)
	assert.Equal(t, 4096, d.MaxTokens)

	window, topK := ModelLimits()
	assert.Equal(t, 200000, window)
	assert.True(t, topK)

	// Roles absent from the file fall back to built-ins.
	acting := DefaultsForRole("acting")
	assert.Equal(t, 2048, acting.MaxTokens)
}
