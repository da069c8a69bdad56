// Package config handles configuration loading for the ingest server and CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/mo"
	"gopkg.in/yaml.v3"

	"github.com/atlasmap-sc/ingest/internal/configurer"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Transform TransformConfig `yaml:"transform"`
	Staging   StagingConfig   `yaml:"staging"`
	Log       LogConfig       `yaml:"log"`
	Datasets  Datasets        `yaml:"datasets"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StoreConfig contains the run store and run queue settings.
type StoreConfig struct {
	SQLitePath    string `yaml:"sqlite_path"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	RetentionDays int    `yaml:"retention_days"`
	BatchSize     int    `yaml:"batch_size"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	StripSizeMB     int `yaml:"strip_size_mb"`
	StripTTLMinutes int `yaml:"strip_ttl_minutes"`
	QuerySize       int `yaml:"query_size"`
}

// StripTTL returns the strip lifetime.
func (c CacheConfig) StripTTL() time.Duration {
	return time.Duration(c.StripTTLMinutes) * time.Minute
}

// RenderConfig contains strip rendering settings.
type RenderConfig struct {
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	BandHeight      int    `yaml:"band_height"`
	DefaultColormap string `yaml:"default_colormap"`
}

// TransformConfig contains the external transformation settings.
type TransformConfig struct {
	Python     string `yaml:"python"`
	ScriptsDir string `yaml:"scripts_dir"`
	// Programs replaces the script of a purpose with an executable.
	Programs         map[string]string `yaml:"programs"`
	TimeoutMinutes   int               `yaml:"timeout_minutes"`
	ScratchDir       string            `yaml:"scratch_dir"`
	Workers          int               `yaml:"workers"`
	MatcherCacheSize int               `yaml:"matcher_cache_size"`
}

// Timeout returns the per-invocation timeout, zero for none.
func (c TransformConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// StagingConfig contains the S3 settings used to stage remote data paths.
type StagingConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatasetConfig describes one dataset: where its data lives, how to load
// it and the samples its cells are assigned to.
type DatasetConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	DataType string `yaml:"data_type"`
	DataPath string `yaml:"data_path"`

	SampleFactor        string `yaml:"sample_factor"`
	CellTypeFactor      string `yaml:"cell_type_factor"`
	UnknownCellType     string `yaml:"unknown_cell_type"`
	Transpose           bool   `yaml:"transpose"`
	UseRawX             *bool  `yaml:"use_raw_x"`
	SkipTransformations bool   `yaml:"skip_transformations"`

	IgnoreSamplesLackingData bool  `yaml:"ignore_samples_lacking_data"`
	Apply10xFilter           *bool `yaml:"apply_10x_filter"`
	MapToGeneSymbols         bool  `yaml:"map_to_gene_symbols"`
	DiscardEmptyCells        bool  `yaml:"discard_empty_cells"`

	IgnoreUnmatchedSamples        *bool `yaml:"ignore_unmatched_samples"`
	IgnoreUnmatchedDesignElements *bool `yaml:"ignore_unmatched_design_elements"`
	IgnoreUnmatchedCellIDs        bool  `yaml:"ignore_unmatched_cell_ids"`

	RenamingFile string `yaml:"renaming_file"`

	CellTypeFile           string `yaml:"cell_type_file"`
	CellTypeName           string `yaml:"cell_type_name"`
	CellTypeDescription    string `yaml:"cell_type_description"`
	CellTypeProtocol       string `yaml:"cell_type_protocol"`
	CharacteristicsFile    string `yaml:"characteristics_file"`
	SequencingMetadataFile string `yaml:"sequencing_metadata_file"`
	DefaultReadLength      int64  `yaml:"default_read_length"`
	DefaultReadCount       int64  `yaml:"default_read_count"`
	DefaultIsPaired        *bool  `yaml:"default_is_paired"`

	Samples []*singlecell.Sample `yaml:"samples"`
}

func option(b *bool) mo.Option[bool] {
	if b == nil {
		return mo.None[bool]()
	}
	return mo.Some(*b)
}

// Options converts the dataset into loader options. Unset tri-states stay
// undecided and unset ignore flags keep their defaults.
func (d DatasetConfig) Options() (configurer.Options, error) {
	opts := configurer.DefaultOptions()
	if d.DataType != "" {
		t, err := configurer.ParseDataType(d.DataType)
		if err != nil {
			return opts, err
		}
		opts.DataType = t
	}
	opts.DataPath = d.DataPath
	opts.SampleFactorName = d.SampleFactor
	opts.CellTypeFactorName = d.CellTypeFactor
	opts.UnknownCellTypeIndicator = d.UnknownCellType
	opts.Transpose = d.Transpose
	opts.UseRawX = option(d.UseRawX)
	opts.SkipTransformations = d.SkipTransformations
	opts.IgnoreSamplesLackingData = d.IgnoreSamplesLackingData
	opts.Apply10xFilter = option(d.Apply10xFilter)
	opts.AllowMappingDesignElementsToGeneSymbols = d.MapToGeneSymbols
	opts.DiscardEmptyCells = d.DiscardEmptyCells
	if d.IgnoreUnmatchedSamples != nil {
		opts.IgnoreUnmatchedSamples = *d.IgnoreUnmatchedSamples
	}
	if d.IgnoreUnmatchedDesignElements != nil {
		opts.IgnoreUnmatchedDesignElements = *d.IgnoreUnmatchedDesignElements
	}
	opts.IgnoreUnmatchedCellIDs = d.IgnoreUnmatchedCellIDs
	opts.RenamingFile = d.RenamingFile
	opts.CellTypeFile = d.CellTypeFile
	opts.CellTypeName = d.CellTypeName
	opts.CellTypeDescription = d.CellTypeDescription
	opts.CellTypeProtocol = d.CellTypeProtocol
	opts.CharacteristicsFile = d.CharacteristicsFile
	opts.SequencingMetadataFile = d.SequencingMetadataFile
	opts.DefaultReadLength = d.DefaultReadLength
	opts.DefaultReadCount = d.DefaultReadCount
	opts.DefaultIsPaired = option(d.DefaultIsPaired)
	return opts, nil
}

// Datasets keeps datasets in the order they appear in the file.
type Datasets struct {
	ids  []string
	byID map[string]*DatasetConfig
}

// UnmarshalYAML decodes a mapping of dataset id to dataset.
func (d *Datasets) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: datasets must be a mapping", value.Line)
	}
	d.ids = nil
	d.byID = make(map[string]*DatasetConfig, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		id := value.Content[i].Value
		if _, dup := d.byID[id]; dup {
			return fmt.Errorf("line %d: duplicate dataset %q", value.Content[i].Line, id)
		}
		var ds DatasetConfig
		if err := value.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("dataset %q: %w", id, err)
		}
		d.Add(id, &ds)
	}
	return nil
}

// Add appends a dataset, replacing any previous one with the same id.
func (d *Datasets) Add(id string, ds *DatasetConfig) {
	if d.byID == nil {
		d.byID = make(map[string]*DatasetConfig)
	}
	if _, ok := d.byID[id]; !ok {
		d.ids = append(d.ids, id)
	}
	d.byID[id] = ds
}

// IDs returns dataset ids in file order.
func (d Datasets) IDs() []string { return d.ids }

// Get returns a dataset, or nil.
func (d Datasets) Get(id string) *DatasetConfig { return d.byID[id] }

// Len returns the number of datasets.
func (d Datasets) Len() int { return len(d.ids) }

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment variables, including those of a .env file in the
// working directory, override the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(cfg)

	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Store: StoreConfig{
			SQLitePath:    "./data/ingest.sqlite",
			MaxConcurrent: 2,
			RetentionDays: 30,
			BatchSize:     256,
		},
		Cache: CacheConfig{
			StripSizeMB:     64,
			StripTTLMinutes: 60,
			QuerySize:       512,
		},
		Render: RenderConfig{
			Width:           1024,
			Height:          64,
			BandHeight:      8,
			DefaultColormap: "seurat",
		},
		Transform: TransformConfig{
			Python:           "python3",
			ScriptsDir:       "./scripts",
			Workers:          4,
			MatcherCacheSize: 1024,
		},
		Staging: StagingConfig{
			Region: "us-east-1",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnv overrides deployment settings from SCINGEST_* variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("SCINGEST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SCINGEST_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Store.SQLitePath, "SCINGEST_SQLITE_PATH")
	set(&cfg.Transform.Python, "SCINGEST_PYTHON")
	set(&cfg.Transform.ScriptsDir, "SCINGEST_SCRIPTS_DIR")
	set(&cfg.Transform.ScratchDir, "SCINGEST_SCRATCH_DIR")
	set(&cfg.Log.Level, "SCINGEST_LOG_LEVEL")
	set(&cfg.Log.Format, "SCINGEST_LOG_FORMAT")
	set(&cfg.Staging.Region, "SCINGEST_S3_REGION")
	set(&cfg.Staging.Endpoint, "SCINGEST_S3_ENDPOINT")
	return nil
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Store.MaxConcurrent <= 0 {
		cfg.Store.MaxConcurrent = defaults.Store.MaxConcurrent
	}
	if cfg.Store.RetentionDays <= 0 {
		cfg.Store.RetentionDays = defaults.Store.RetentionDays
	}
	if cfg.Store.BatchSize <= 0 {
		cfg.Store.BatchSize = defaults.Store.BatchSize
	}
	if cfg.Cache.StripSizeMB == 0 {
		cfg.Cache.StripSizeMB = defaults.Cache.StripSizeMB
	}
	if cfg.Cache.StripTTLMinutes == 0 {
		cfg.Cache.StripTTLMinutes = defaults.Cache.StripTTLMinutes
	}
	if cfg.Cache.QuerySize == 0 {
		cfg.Cache.QuerySize = defaults.Cache.QuerySize
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.BandHeight == 0 {
		cfg.Render.BandHeight = defaults.Render.BandHeight
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Transform.Python == "" {
		cfg.Transform.Python = defaults.Transform.Python
	}
	if cfg.Transform.ScriptsDir == "" {
		cfg.Transform.ScriptsDir = defaults.Transform.ScriptsDir
	}
	if cfg.Transform.Workers <= 0 {
		cfg.Transform.Workers = defaults.Transform.Workers
	}
	if cfg.Transform.MatcherCacheSize == 0 {
		cfg.Transform.MatcherCacheSize = defaults.Transform.MatcherCacheSize
	}
	if cfg.Staging.Region == "" {
		cfg.Staging.Region = defaults.Staging.Region
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}
