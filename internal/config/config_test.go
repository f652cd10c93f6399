package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-iijima/hiveforge/internal/types"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "vault", cfg.VaultPath)
	assert.Equal(t, types.TrustProposeConfirm, cfg.TrustLevel)
	assert.Equal(t, 5, cfg.Governance.MaxLoopCount)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiveforge.yaml")
	body := `
vault_path: /data/vault
trust_level: DELEGATED
llm:
  model: gemini-2.5-pro
governance:
  max_cost: 5.0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("HIVEFORGE_MAX_COST", "2.5")
	t.Setenv("HIVEFORGE_LLM_API_KEY", "test-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/vault", cfg.VaultPath)
	assert.Equal(t, types.TrustDelegated, cfg.TrustLevel)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, 5*time.Minute, cfg.LLM.Timeout, "unset file fields keep their defaults")
	assert.Equal(t, 2.5, cfg.Governance.MaxCost, "environment wins over the file")
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.TrustLevel = "YOLO"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.VaultPath = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Guard.CoverageThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Governance.MaxOscillations = 0
	assert.Error(t, cfg.Validate())
}
