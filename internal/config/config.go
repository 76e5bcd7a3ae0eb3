// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads deployment-level configuration: storage
// locations, vector dimensionality, and the default session
// configuration new sessions are created with before any per-session
// update_config call overrides it. Layering (defaults, then an
// optional YAML file, then environment variables) follows the
// teacher's internal/config/koanf.go.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/sevakavakians/kato-sub008/internal/filter"
	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/minhash"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// priority order. The first one found wins.
var DefaultConfigPaths = []string{
	"kato.yaml",
	"kato.yml",
	"/etc/kato/kato.yaml",
}

// ConfigPathEnvVar overrides the search path entirely.
const ConfigPathEnvVar = "KATO_CONFIG_PATH"

// StorageConfig locates the C4-C7 backing stores.
type StorageConfig struct {
	PatternDBPath     string  `koanf:"pattern_db_path"`
	MetadataDBPath    string  `koanf:"metadata_db_path"`
	SessionDBPath     string  `koanf:"session_db_path"`
	BloomExpectedN    int     `koanf:"bloom_expected_n"`
	BloomFalsePosRate float64 `koanf:"bloom_false_positive_rate"`

	// IndexDBPath, when set, persists the C2 LSH buckets to a Badger
	// directory so a restart doesn't lose the index. Empty means
	// in-memory only.
	IndexDBPath string `koanf:"index_db_path"`
}

// VectorConfig controls C6's cosine-LSH vector index.
type VectorConfig struct {
	Dimension int     `koanf:"dimension"`
	Threshold float64 `koanf:"threshold"`
}

// MinHashConfig exposes C2's (H, B, R) triple; the zero value means
// "use minhash.DefaultParams()".
type MinHashConfig struct {
	Width int `koanf:"width"`
	Bands int `koanf:"bands"`
	Rows  int `koanf:"rows"`
}

// Resolve returns the effective minhash.Params, substituting the
// package default for any zero field.
func (c MinHashConfig) Resolve() minhash.Params {
	p := minhash.DefaultParams()
	if c.Width != 0 {
		p.H = c.Width
	}
	if c.Bands != 0 {
		p.B = c.Bands
	}
	if c.Rows != 0 {
		p.R = c.Rows
	}
	return p
}

// SessionDefaultsConfig mirrors pattern.SessionConfig with koanf tags
// and string filter names, since pattern.FilterName isn't a koanf
// primitive type.
type SessionDefaultsConfig struct {
	MaxPatternLength        int           `koanf:"max_pattern_length"`
	RecallThreshold         float64       `koanf:"recall_threshold"`
	MaxPredictions          int           `koanf:"max_predictions"`
	FilterPipeline          []string      `koanf:"filter_pipeline"`
	LengthMaxDeviation      int           `koanf:"length_max_deviation"`
	JaccardMinSimilarity    float64       `koanf:"jaccard_min_similarity"`
	MinHashJaccardThreshold float64       `koanf:"minhash_jaccard_threshold"`
	RapidFuzzMinScore       float64       `koanf:"rapidfuzz_min_score"`
	UseTokenMatching        bool          `koanf:"use_token_matching"`
	AutoExtendSession       bool          `koanf:"auto_extend_session"`
	SessionTTL              time.Duration `koanf:"session_ttl"`
}

// ToSessionConfig renders a pattern.SessionConfig scoped to kbID.
func (c SessionDefaultsConfig) ToSessionConfig(kbID string) pattern.SessionConfig {
	names := make([]pattern.FilterName, len(c.FilterPipeline))
	for i, n := range c.FilterPipeline {
		names[i] = pattern.FilterName(n)
	}
	return pattern.SessionConfig{
		KBID:                    kbID,
		MaxPatternLength:        c.MaxPatternLength,
		RecallThreshold:         c.RecallThreshold,
		MaxPredictions:          c.MaxPredictions,
		FilterPipeline:          names,
		LengthMaxDeviation:      c.LengthMaxDeviation,
		JaccardMinSimilarity:    c.JaccardMinSimilarity,
		MinHashJaccardThreshold: c.MinHashJaccardThreshold,
		RapidFuzzMinScore:       c.RapidFuzzMinScore,
		UseTokenMatching:        c.UseTokenMatching,
		AutoExtendSession:       c.AutoExtendSession,
	}
}

// LoggingConfig mirrors the teacher's logging section.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Config is the full deployment-level configuration.
type Config struct {
	Storage         StorageConfig         `koanf:"storage"`
	Vector          VectorConfig          `koanf:"vector"`
	MinHash         MinHashConfig         `koanf:"minhash"`
	SessionDefaults SessionDefaultsConfig `koanf:"session_defaults"`
	Logging         LoggingConfig         `koanf:"logging"`
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			PatternDBPath:     "/data/kato/patterns.duckdb",
			MetadataDBPath:    "/data/kato/metadata.badger",
			SessionDBPath:     "/data/kato/sessions.badger",
			BloomExpectedN:    100_000,
			BloomFalsePosRate: 0.01,
			IndexDBPath:       "",
		},
		Vector: VectorConfig{
			Dimension: 0, // 0 disables vector observations for the deployment
			Threshold: 0.99,
		},
		MinHash: MinHashConfig{}, // zero value resolves to minhash.DefaultParams()
		SessionDefaults: SessionDefaultsConfig{
			MaxPatternLength:        0,
			RecallThreshold:         0.1,
			MaxPredictions:          100,
			FilterPipeline:          nil,
			LengthMaxDeviation:      2,
			JaccardMinSimilarity:    0.1,
			MinHashJaccardThreshold: 0.3,
			RapidFuzzMinScore:       70,
			UseTokenMatching:        true,
			AutoExtendSession:       false,
			SessionTTL:              30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load reads configuration with the layered precedence defaults <
// file < environment, following the teacher's LoadWithKoanf.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, kerrors.Wrap(kerrors.KindValidation, "load config defaults", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, kerrors.Wrap(kerrors.KindValidation, "load config file "+path, err)
		}
	}

	if err := k.Load(env.Provider("KATO_", ".", envTransformFunc), nil); err != nil {
		return nil, kerrors.Wrap(kerrors.KindValidation, "load environment overrides", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, kerrors.Wrap(kerrors.KindValidation, "unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps KATO_STORAGE_PATTERN_DB_PATH-style env names
// to koanf's dotted path form (storage.pattern_db_path). env.Provider's
// callback receives the full, un-stripped env var name (including the
// prefix given to Provider), so the prefix is stripped here before
// case-folding. Only the underscore ending a known top-level section
// name becomes the delimiter; underscores inside field names are kept.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, "KATO_")
	lower := strings.ToLower(key)
	for _, section := range []string{"session_defaults", "storage", "vector", "minhash", "logging"} {
		if strings.HasPrefix(lower, section+"_") {
			return section + "." + lower[len(section)+1:]
		}
	}
	return toDotted(key)
}

func toDotted(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == '_':
			out = append(out, '.')
		case c >= 'A' && c <= 'Z':
			out = append(out, c-'A'+'a')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// Validate rejects configuration that would leave downstream
// components unable to start: unknown filter names, out-of-range
// thresholds, and an inconsistent minhash (H, B, R) triple.
func (c *Config) Validate() error {
	names := make([]pattern.FilterName, len(c.SessionDefaults.FilterPipeline))
	for i, n := range c.SessionDefaults.FilterPipeline {
		names[i] = pattern.FilterName(n)
	}
	// index/rapidFuzz are nil here: name validation only needs the
	// registry's key set, not working filter implementations.
	reg := filter.NewRegistry(nil, nil)
	if err := reg.ValidateNames(names); err != nil {
		return kerrors.Wrap(kerrors.KindValidation, "invalid session_defaults.filter_pipeline", err)
	}

	if r := c.SessionDefaults.RecallThreshold; r < 0 || r > 1 {
		return kerrors.New(kerrors.KindValidation, fmt.Sprintf("session_defaults.recall_threshold %v out of range [0,1]", r))
	}
	if r := c.SessionDefaults.JaccardMinSimilarity; r < 0 || r > 1 {
		return kerrors.New(kerrors.KindValidation, fmt.Sprintf("session_defaults.jaccard_min_similarity %v out of range [0,1]", r))
	}
	if r := c.SessionDefaults.MinHashJaccardThreshold; r < 0 || r > 1 {
		return kerrors.New(kerrors.KindValidation, fmt.Sprintf("session_defaults.minhash_jaccard_threshold %v out of range [0,1]", r))
	}
	if r := c.SessionDefaults.RapidFuzzMinScore; r < 0 || r > 100 {
		return kerrors.New(kerrors.KindValidation, fmt.Sprintf("session_defaults.rapidfuzz_min_score %v out of range [0,100]", r))
	}
	if c.Vector.Dimension < 0 {
		return kerrors.New(kerrors.KindValidation, "vector.dimension must be >= 0")
	}
	if !c.MinHash.Resolve().Validate() {
		return kerrors.New(kerrors.KindValidation, "minhash width/bands/rows must satisfy bands*rows == width")
	}
	return nil
}
