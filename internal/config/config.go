// Package config loads and serves the proxy's configuration: which
// upstream text-only model to forward to, which in-band tool-call protocol
// it expects, and the coercion/repair policy toggles spec.md §9 leaves up
// to the caller. Adapted from the teacher's internal/config/config.go,
// keeping its dual YAML/JSON loading (YAML takes precedence), atomic.Value
// caching for concurrent reads, and CCO_API_KEY-style env-var fallback.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"

	// EnvAPIKeyFallback names the environment variable consulted when no
	// config file is present, mirroring the teacher's CCO_API_KEY
	// zero-config bootstrap.
	EnvAPIKeyFallback = "TCB_API_KEY"
)

// KnownProtocols are the in-band tool-call protocols this build ships
// (spec.md §6's sentinel table).
var KnownProtocols = []string{"hermes", "gemma", "xml-element", "ui-tars"}

// Upstream describes the single text-only model this proxy forwards to.
type Upstream struct {
	Name    string `json:"name" yaml:"name"`
	APIBase string `json:"api_base_url" yaml:"url,omitempty"`
	APIKey  string `json:"api_key" yaml:"api_key,omitempty"`
	Model   string `json:"model" yaml:"model,omitempty"`
}

// CoercionPolicy configures internal/rxml and internal/schemacoerce's
// optional behaviors (see DESIGN.md Open Questions for the defaults this
// struct's zero value resolves to).
type CoercionPolicy struct {
	// RepairAgainstSchema defaults to true (see DESIGN.md Open Question 3)
	// via applyDefaults. It is stored and shown by `config show` only: the
	// XML-element protocol always runs the heuristic repair pipeline, and
	// setting this to false does not turn it off.
	RepairAgainstSchema *bool `json:"repair_against_schema,omitempty" yaml:"repair_against_schema,omitempty"`
	// ThrowOnDuplicateStringTags makes a repeated string-typed XML tag a
	// parse error instead of silently keeping the first occurrence;
	// defaults to true (spec.md §4.4/§7's "Duplicate string tag" scenario)
	// via applyDefaults.
	ThrowOnDuplicateStringTags *bool `json:"throw_on_duplicate_string_tags,omitempty" yaml:"throw_on_duplicate_string_tags,omitempty"`
	// EmitRawToolCallTextOnError defaults to false and is stored and shown
	// by `config show` only. The parsers do not read it: a malformed
	// tool-call payload is always surfaced to the client as text, whatever
	// its value.
	EmitRawToolCallTextOnError bool `json:"emit_raw_tool_call_text_on_error,omitempty" yaml:"emit_raw_tool_call_text_on_error,omitempty"`
	// MaxBufferedPayloadBytes is defaulted by applyDefaults and shown by
	// `config show`. The streaming kernel does not read it: an unterminated
	// tool-call payload is buffered without a size limit until its close
	// sentinel arrives or the stream finishes.
	MaxBufferedPayloadBytes int `json:"max_buffered_payload_bytes,omitempty" yaml:"max_buffered_payload_bytes,omitempty"`
}

// Config is the proxy's full configuration.
type Config struct {
	Host     string         `json:"HOST,omitempty" yaml:"host,omitempty"`
	Port     int            `json:"PORT,omitempty" yaml:"port,omitempty"`
	APIKey   string         `json:"APIKEY,omitempty" yaml:"api_key,omitempty"`
	Upstream Upstream       `json:"Upstream" yaml:"upstream"`
	Protocol string         `json:"Protocol" yaml:"protocol"`
	Coercion CoercionPolicy `json:"Coercion,omitempty" yaml:"coercion,omitempty"`
}

// Manager loads, caches, and persists Config.
type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
}

// NewManager returns a Manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

// createMinimalConfig builds a default single-upstream config from the
// TCB_API_KEY environment variable, used when no config file exists at
// all — the zero-config bootstrap path.
func (m *Manager) createMinimalConfig() Config {
	return Config{
		Host:     DefaultHost,
		Port:     DefaultPort,
		Protocol: "hermes",
		Upstream: Upstream{
			Name:    "openai-compatible",
			APIKey:  os.Getenv(EnvAPIKeyFallback),
			APIBase: "https://api.openai.com/v1/chat/completions",
		},
	}
}

// Load reads the config file (YAML takes precedence over JSON), or falls
// back to createMinimalConfig if TCB_API_KEY is set and no file exists, and
// errors otherwise.
func (m *Manager) Load() (*Config, error) {
	var cfg Config
	var err error

	apiKey := os.Getenv(EnvAPIKeyFallback)

	switch {
	case fileExists(m.yamlPath):
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	case fileExists(m.jsonPath):
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	case apiKey != "":
		cfg = m.createMinimalConfig()
	default:
		return nil, fmt.Errorf("no configuration file found (looked for %s or %s) and %s environment variable not set", m.yamlPath, m.jsonPath, EnvAPIKeyFallback)
	}

	if err := m.applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (m *Manager) loadYAML() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}

	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}

	return cfg, nil
}

func (m *Manager) applyDefaults(cfg *Config) error {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "hermes"
	}
	if cfg.Upstream.APIKey == "" {
		if k := os.Getenv(EnvAPIKeyFallback); k != "" {
			cfg.Upstream.APIKey = k
		}
	}
	if cfg.Coercion.RepairAgainstSchema == nil {
		t := true
		cfg.Coercion.RepairAgainstSchema = &t
	}
	if cfg.Coercion.ThrowOnDuplicateStringTags == nil {
		t := true
		cfg.Coercion.ThrowOnDuplicateStringTags = &t
	}
	if cfg.Coercion.MaxBufferedPayloadBytes == 0 {
		cfg.Coercion.MaxBufferedPayloadBytes = 1 << 20
	}

	return nil
}

// Get returns the cached Config, loading it on first use. If loading
// fails, it falls back to bare defaults rather than panicking, matching
// the teacher's own fail-soft Get.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{Host: DefaultHost, Port: DefaultPort, Protocol: "hermes"}
	}
	return cfg
}

// Save persists cfg as YAML (the preferred format for new saves) and
// updates the cache.
func (m *Manager) Save(cfg *Config) error {
	return m.SaveAsYAML(cfg)
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}

	if err := os.WriteFile(m.yamlPath, data, 0o644); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) SaveAsJSON(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}

	if err := os.WriteFile(m.jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	if fileExists(m.yamlPath) {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string { return m.yamlPath }
func (m *Manager) GetJSONPath() string { return m.jsonPath }

func (m *Manager) Exists() bool {
	return fileExists(m.yamlPath) || fileExists(m.jsonPath)
}

func (m *Manager) HasYAML() bool { return fileExists(m.yamlPath) }
func (m *Manager) HasJSON() bool { return fileExists(m.jsonPath) }

// CreateExampleYAML writes an example configuration covering every known
// protocol choice, for `cmd config` to scaffold.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:     DefaultHost,
		Port:     DefaultPort,
		APIKey:   "your-proxy-api-key-here",
		Protocol: "hermes",
		Upstream: Upstream{
			Name:    "openai-compatible",
			APIKey:  "your-upstream-api-key",
			APIBase: "https://api.openai.com/v1/chat/completions",
			Model:   "gpt-4o-mini",
		},
	}

	if err := m.applyDefaults(cfg); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}

	return m.SaveAsYAML(cfg)
}
