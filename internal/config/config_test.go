// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_PassesValidation(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfig_SessionDefaultsMatchDocumentedDefaults(t *testing.T) {
	cfg := defaultConfig()
	require.Equal(t, 0.1, cfg.SessionDefaults.RecallThreshold)
	require.Equal(t, 100, cfg.SessionDefaults.MaxPredictions)
	require.True(t, cfg.SessionDefaults.UseTokenMatching)
	require.Nil(t, cfg.SessionDefaults.FilterPipeline)
}

func TestValidate_RejectsUnknownFilterName(t *testing.T) {
	cfg := defaultConfig()
	cfg.SessionDefaults.FilterPipeline = []string{"length", "not-a-real-filter"}
	require.Error(t, cfg.Validate())
}

func TestValidate_AcceptsKnownFilterNames(t *testing.T) {
	cfg := defaultConfig()
	cfg.SessionDefaults.FilterPipeline = []string{"length", "jaccard", "minhash", "rapidfuzz"}
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeRecallThreshold(t *testing.T) {
	cfg := defaultConfig()
	cfg.SessionDefaults.RecallThreshold = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeRapidFuzzScore(t *testing.T) {
	cfg := defaultConfig()
	cfg.SessionDefaults.RapidFuzzMinScore = 150
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsInconsistentMinHashTriple(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinHash = MinHashConfig{Width: 128, Bands: 10, Rows: 4} // 10*4 != 128
	require.Error(t, cfg.Validate())
}

func TestValidate_AcceptsOverriddenMinHashTriple(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinHash = MinHashConfig{Width: 64, Bands: 16, Rows: 4}
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsNegativeVectorDimension(t *testing.T) {
	cfg := defaultConfig()
	cfg.Vector.Dimension = -1
	require.Error(t, cfg.Validate())
}

func TestToSessionConfig_ScopesToKBID(t *testing.T) {
	cfg := defaultConfig()
	cfg.SessionDefaults.FilterPipeline = []string{"length", "jaccard"}
	sc := cfg.SessionDefaults.ToSessionConfig("kb-42")
	require.Equal(t, "kb-42", sc.KBID)
	require.Equal(t, 2, len(sc.FilterPipeline))
}

func TestLoad_FileOverridesDefaultsAndEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kato.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_defaults:\n  recall_threshold: 0.25\n"), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("KATO_SESSION_DEFAULTS_MAX_PREDICTIONS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 0.25, cfg.SessionDefaults.RecallThreshold)
	require.Equal(t, 7, cfg.SessionDefaults.MaxPredictions)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 0.1, cfg.SessionDefaults.RecallThreshold)
}
