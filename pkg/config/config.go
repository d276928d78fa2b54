package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/engramhq/engram/internal/consolidate"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/guard"
	"github.com/engramhq/engram/internal/ingest"
	"github.com/engramhq/engram/internal/retrieval"
)

// Config is the complete engram configuration surface: storage location,
// API binding, FSRS weights, retrieval and ingest-gate thresholds,
// consolidation triggers, and the external-service endpoints.
type Config struct {
	Profile       string              `mapstructure:"profile"`
	Database      DatabaseConfig      `mapstructure:"database"`
	RestAPI       RestAPIConfig       `mapstructure:"rest_api"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	VectorIndex   VectorIndexConfig   `mapstructure:"vector_index"`
	Analyzer      AnalyzerConfig      `mapstructure:"analyzer"`
	FSRS          FSRSConfig          `mapstructure:"fsrs"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	IngestGate    IngestGateConfig    `mapstructure:"ingest_gate"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Guard         GuardConfig         `mapstructure:"guard"`
}

// DatabaseConfig holds the embedded store location.
type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	BackupInterval time.Duration `mapstructure:"backup_interval"`
	MaxBackups     int           `mapstructure:"max_backups"`
}

// RestAPIConfig holds REST API server configuration.
type RestAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	CORS    bool   `mapstructure:"cors"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"` // "deterministic" or "ollama"
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// VectorIndexConfig selects the ANN backend.
type VectorIndexConfig struct {
	Backend    string `mapstructure:"backend"` // "inprocess" or "qdrant"
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
}

// AnalyzerConfig configures the optional model-assisted importance
// assessment at ingest time.
type AnalyzerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	ChatModel string `mapstructure:"chat_model"`
}

// FSRSConfig carries the scheduler's weight vector and targets. An empty
// Weights slice means the published FSRS-6 defaults.
type FSRSConfig struct {
	Weights         []float64 `mapstructure:"weights"`
	Decay           float64   `mapstructure:"decay"`
	RetentionTarget float64   `mapstructure:"retention_target"` // hot-reloadable
	LearningSteps   int       `mapstructure:"learning_steps"`
	EmotionalBoostK float64   `mapstructure:"emotional_boost_k"`
}

// ToParameters converts the config into the scheduler's parameter set.
func (f FSRSConfig) ToParameters() fsrs.Parameters {
	p := fsrs.DefaultParameters()
	if len(f.Weights) == len(p.W) {
		copy(p.W[:], f.Weights)
	}
	if f.Decay > 0 {
		p.W[20] = f.Decay
	}
	if f.RetentionTarget > 0 {
		p.RequestRetention = f.RetentionTarget
	}
	return p
}

// RetrievalConfig carries the pipeline's weights and thresholds.
type RetrievalConfig struct {
	Fusion               string  `mapstructure:"fusion"` // "convex" or "rrf"
	KeywordWeight        float64 `mapstructure:"keyword_weight"`
	SemanticWeight       float64 `mapstructure:"semantic_weight"`
	RRFK                 float64 `mapstructure:"rrf_k"`
	MinRetention         float64 `mapstructure:"min_retention"`
	MinSimilarity        float64 `mapstructure:"min_similarity"`
	RecencyHalfLifeDays  float64 `mapstructure:"recency_half_life_days"`
	TemporalBlend        float64 `mapstructure:"temporal_blend"`
	ContextBoostMax      float64 `mapstructure:"context_boost_max"`
	CompetitionThreshold float64 `mapstructure:"competition_threshold"`
	CompetitionPenalty   float64 `mapstructure:"competition_penalty"`
	UtilityBoostCoef     float64 `mapstructure:"utility_boost_coef"`
	LabileWindow         time.Duration `mapstructure:"labile_window"`
	AssociationTopK      int     `mapstructure:"association_top_k"`
}

// ToPipelineConfig converts the config into the pipeline's config value.
func (r RetrievalConfig) ToPipelineConfig() retrieval.Config {
	cfg := retrieval.DefaultConfig()
	switch r.Fusion {
	case "rrf":
		f := retrieval.DefaultRRFFusion()
		if r.RRFK > 0 {
			f.K = r.RRFK
		}
		cfg.Fusion = f
	default:
		f := retrieval.DefaultConvexFusion()
		if r.KeywordWeight > 0 || r.SemanticWeight > 0 {
			f.KeywordWeight = r.KeywordWeight
			f.SemanticWeight = r.SemanticWeight
		}
		cfg.Fusion = f
	}
	cfg.MinRetention = r.MinRetention
	cfg.MinSimilarity = r.MinSimilarity
	if r.RecencyHalfLifeDays > 0 {
		cfg.RecencyHalfLifeDays = r.RecencyHalfLifeDays
	}
	if r.TemporalBlend > 0 {
		cfg.TemporalBlend = r.TemporalBlend
	}
	if r.ContextBoostMax > 0 {
		cfg.ContextBoostMax = r.ContextBoostMax
	}
	if r.CompetitionThreshold > 0 {
		cfg.CompetitionThreshold = r.CompetitionThreshold
	}
	if r.CompetitionPenalty > 0 {
		cfg.CompetitionPenalty = r.CompetitionPenalty
	}
	if r.UtilityBoostCoef > 0 {
		cfg.UtilityBoostCoef = r.UtilityBoostCoef
	}
	if r.LabileWindow > 0 {
		cfg.LabileWindow = r.LabileWindow
	}
	if r.AssociationTopK > 0 {
		cfg.AssociationTopK = r.AssociationTopK
	}
	return cfg
}

// IngestGateConfig carries the prediction-error gate thresholds. All four
// similarity thresholds are hot-reloadable.
type IngestGateConfig struct {
	TCreate              float64 `mapstructure:"t_create"`
	TUpdate              float64 `mapstructure:"t_update"`
	TReinforce           float64 `mapstructure:"t_reinforce"`
	K                    int     `mapstructure:"k"`
	MergeBand            float64 `mapstructure:"merge_band"`
	DemotionFloor        float64 `mapstructure:"demotion_floor"`
	SynapticTagThreshold float64 `mapstructure:"synaptic_tag_threshold"`
	EmbeddingVersion     int     `mapstructure:"embedding_version"`
}

// ToGateConfig converts the config into the gate's config value.
func (g IngestGateConfig) ToGateConfig() ingest.Config {
	cfg := ingest.DefaultConfig()
	if g.TCreate > 0 {
		cfg.TCreate = g.TCreate
	}
	if g.TUpdate > 0 {
		cfg.TUpdate = g.TUpdate
	}
	if g.TReinforce > 0 {
		cfg.TReinforce = g.TReinforce
	}
	if g.K > 0 {
		cfg.K = g.K
	}
	if g.MergeBand > 0 {
		cfg.MergeBand = g.MergeBand
	}
	if g.DemotionFloor > 0 {
		cfg.DemotionFloor = g.DemotionFloor
	}
	if g.SynapticTagThreshold > 0 {
		cfg.SynapticTagThreshold = g.SynapticTagThreshold
	}
	if g.EmbeddingVersion > 0 {
		cfg.EmbeddingVersion = g.EmbeddingVersion
	}
	return cfg
}

// ConsolidationConfig carries the background pass trigger thresholds.
type ConsolidationConfig struct {
	MinInterval        time.Duration `mapstructure:"min_interval"`
	WriteThreshold     int           `mapstructure:"write_threshold"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	DuplicateThreshold float64       `mapstructure:"duplicate_threshold"`
	PruneFloor         float64       `mapstructure:"prune_floor"`
	PruneHorizon       time.Duration `mapstructure:"prune_horizon"`
}

// ToConsolidateConfig converts the config into the consolidator's value.
func (c ConsolidationConfig) ToConsolidateConfig() consolidate.Config {
	cfg := consolidate.DefaultConfig()
	if c.MinInterval > 0 {
		cfg.MinInterval = c.MinInterval
	}
	if c.WriteThreshold > 0 {
		cfg.WriteThreshold = c.WriteThreshold
	}
	if c.StaleAfter > 0 {
		cfg.StaleAfter = c.StaleAfter
	}
	if c.DuplicateThreshold > 0 {
		cfg.DuplicateThreshold = c.DuplicateThreshold
	}
	if c.PruneFloor > 0 {
		cfg.PruneFloor = c.PruneFloor
	}
	if c.PruneHorizon > 0 {
		cfg.PruneHorizon = c.PruneHorizon
	}
	return cfg
}

// GuardConfig carries the external-call deadlines.
type GuardConfig struct {
	EmbedTimeout  time.Duration `mapstructure:"embed_timeout"`
	VectorTimeout time.Duration `mapstructure:"vector_timeout"`
}

// ToGuardConfig converts the config into the guard's value.
func (g GuardConfig) ToGuardConfig() guard.Config {
	cfg := guard.DefaultConfig()
	if g.EmbedTimeout > 0 {
		cfg.EmbedTimeout = g.EmbedTimeout
	}
	if g.VectorTimeout > 0 {
		cfg.VectorTimeout = g.VectorTimeout
	}
	return cfg
}

// DefaultConfig returns configuration with stock values.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".engram")

	return &Config{
		Profile: "default",
		Database: DatabaseConfig{
			Path:           filepath.Join(configDir, "engram.db"),
			BackupInterval: 24 * time.Hour,
			MaxBackups:     7,
		},
		RestAPI: RestAPIConfig{
			Enabled: true,
			Port:    3802,
			Host:    "localhost",
			CORS:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Embedding: EmbeddingConfig{
			Provider:  "deterministic",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 256,
		},
		VectorIndex: VectorIndexConfig{
			Backend:    "inprocess",
			URL:        "http://localhost:6333",
			Collection: "engram-nodes",
		},
		Analyzer: AnalyzerConfig{
			Enabled:   false,
			BaseURL:   "http://localhost:11434",
			ChatModel: "qwen2.5:3b",
		},
		FSRS: FSRSConfig{
			Decay:           fsrs.DefaultDecay,
			RetentionTarget: fsrs.DefaultRetention,
			LearningSteps:   fsrs.DefaultLearningSteps,
			EmotionalBoostK: fsrs.EmotionalBoostK,
		},
		Retrieval: RetrievalConfig{
			Fusion:               "convex",
			KeywordWeight:        0.3,
			SemanticWeight:       0.7,
			RRFK:                 60,
			RecencyHalfLifeDays:  30,
			TemporalBlend:        0.15,
			ContextBoostMax:      0.30,
			CompetitionThreshold: 0.7,
			CompetitionPenalty:   0.85,
			UtilityBoostCoef:     0.15,
			LabileWindow:         5 * time.Minute,
			AssociationTopK:      3,
		},
		IngestGate: IngestGateConfig{
			TCreate:              0.65,
			TUpdate:              0.80,
			TReinforce:           0.92,
			K:                    5,
			MergeBand:            0.05,
			DemotionFloor:        0.3,
			SynapticTagThreshold: 0.3,
			EmbeddingVersion:     2,
		},
		Consolidation: ConsolidationConfig{
			MinInterval:        6 * time.Hour,
			WriteThreshold:     100,
			StaleAfter:         time.Hour,
			DuplicateThreshold: 0.92,
			PruneFloor:         0.05,
			PruneHorizon:       30 * 24 * time.Hour,
		},
		Guard: GuardConfig{
			EmbedTimeout:  5 * time.Second,
			VectorTimeout: 500 * time.Millisecond,
		},
	}
}

// Load reads configuration from a YAML file with fallback to defaults.
// Search order: ./config.yaml, ~/.engram/config.yaml, /etc/engram/config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".engram"))
	v.AddConfigPath("/etc/engram")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults mirrors DefaultConfig into Viper so partial YAML files pick
// up stock values for everything they omit.
func setDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".engram")

	v.SetDefault("profile", "default")
	v.SetDefault("database.path", filepath.Join(configDir, "engram.db"))
	v.SetDefault("database.backup_interval", "24h")
	v.SetDefault("database.max_backups", 7)

	v.SetDefault("rest_api.enabled", true)
	v.SetDefault("rest_api.port", 3802)
	v.SetDefault("rest_api.host", "localhost")
	v.SetDefault("rest_api.cors", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("embedding.provider", "deterministic")
	v.SetDefault("embedding.base_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimension", 256)

	v.SetDefault("vector_index.backend", "inprocess")
	v.SetDefault("vector_index.url", "http://localhost:6333")
	v.SetDefault("vector_index.collection", "engram-nodes")

	v.SetDefault("analyzer.enabled", false)
	v.SetDefault("analyzer.base_url", "http://localhost:11434")
	v.SetDefault("analyzer.chat_model", "qwen2.5:3b")

	v.SetDefault("fsrs.decay", fsrs.DefaultDecay)
	v.SetDefault("fsrs.retention_target", fsrs.DefaultRetention)
	v.SetDefault("fsrs.learning_steps", fsrs.DefaultLearningSteps)
	v.SetDefault("fsrs.emotional_boost_k", fsrs.EmotionalBoostK)

	v.SetDefault("retrieval.fusion", "convex")
	v.SetDefault("retrieval.keyword_weight", 0.3)
	v.SetDefault("retrieval.semantic_weight", 0.7)
	v.SetDefault("retrieval.rrf_k", 60)
	v.SetDefault("retrieval.recency_half_life_days", 30)
	v.SetDefault("retrieval.temporal_blend", 0.15)
	v.SetDefault("retrieval.context_boost_max", 0.30)
	v.SetDefault("retrieval.competition_threshold", 0.7)
	v.SetDefault("retrieval.competition_penalty", 0.85)
	v.SetDefault("retrieval.utility_boost_coef", 0.15)
	v.SetDefault("retrieval.labile_window", "5m")
	v.SetDefault("retrieval.association_top_k", 3)

	v.SetDefault("ingest_gate.t_create", 0.65)
	v.SetDefault("ingest_gate.t_update", 0.80)
	v.SetDefault("ingest_gate.t_reinforce", 0.92)
	v.SetDefault("ingest_gate.k", 5)
	v.SetDefault("ingest_gate.merge_band", 0.05)
	v.SetDefault("ingest_gate.demotion_floor", 0.3)
	v.SetDefault("ingest_gate.synaptic_tag_threshold", 0.3)
	v.SetDefault("ingest_gate.embedding_version", 2)

	v.SetDefault("consolidation.min_interval", "6h")
	v.SetDefault("consolidation.write_threshold", 100)
	v.SetDefault("consolidation.stale_after", "1h")
	v.SetDefault("consolidation.duplicate_threshold", 0.92)
	v.SetDefault("consolidation.prune_floor", 0.05)
	v.SetDefault("consolidation.prune_horizon", "720h")

	v.SetDefault("guard.embed_timeout", "5s")
	v.SetDefault("guard.vector_timeout", "500ms")
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxBackups < 0 {
		return fmt.Errorf("database.max_backups must be >= 0")
	}

	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when REST API is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	if c.Embedding.Provider != "deterministic" && c.Embedding.Provider != "ollama" {
		return fmt.Errorf("embedding.provider must be 'deterministic' or 'ollama'")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.VectorIndex.Backend != "inprocess" && c.VectorIndex.Backend != "qdrant" {
		return fmt.Errorf("vector_index.backend must be 'inprocess' or 'qdrant'")
	}
	if c.VectorIndex.Backend == "qdrant" && c.VectorIndex.URL == "" {
		return fmt.Errorf("vector_index.url is required for the qdrant backend")
	}

	if len(c.FSRS.Weights) != 0 && len(c.FSRS.Weights) != 21 {
		return fmt.Errorf("fsrs.weights must have exactly 21 entries when set")
	}
	if c.FSRS.RetentionTarget <= 0 || c.FSRS.RetentionTarget >= 1 {
		return fmt.Errorf("fsrs.retention_target must be in (0, 1)")
	}

	g := c.IngestGate
	if !(g.TCreate < g.TUpdate && g.TUpdate < g.TReinforce) {
		return fmt.Errorf("ingest_gate thresholds must satisfy t_create < t_update < t_reinforce")
	}

	return nil
}

// EnsureConfigDir creates the data directory if it doesn't exist.
func (c *Config) EnsureConfigDir() error {
	configDir := filepath.Dir(c.Database.Path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the configuration directory.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".engram")
}

// DatabasePath returns the default database path.
func DatabasePath() string {
	return filepath.Join(ConfigPath(), "engram.db")
}
