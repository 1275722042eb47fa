package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Research Research               `yaml:"research"`
	LLM      LLM                    `yaml:"llm"`
	Agents   map[string]AgentConfig `yaml:"agents"`
	Search   Search                 `yaml:"search"`
	Scrape   Scrape                 `yaml:"scrape"`
	Retry    Retry                  `yaml:"retry"`
	Output   Output                 `yaml:"output"`
	Server   Server                 `yaml:"server"`
	Logging  Logging                `yaml:"logging"`
}

// Research bounds a single session. MaxIterations has no default.
type Research struct {
	MaxIterations      int `yaml:"max_iterations"`
	MaxSubtopics       int `yaml:"max_subtopics"`
	MaxHitsPerQuery    int `yaml:"max_hits_per_query"`
	MaxURLsPerSubtopic int `yaml:"max_urls_per_subtopic"`
	Concurrency        int `yaml:"concurrency"`
}

type LLM struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
	Azure       Azure  `yaml:"azure"`
	Gemini      Gemini `yaml:"gemini"`
}

type Azure struct {
	EndpointEnv string `yaml:"endpoint_env"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Deployment  string `yaml:"deployment"`
	APIVersion  string `yaml:"api_version"`
}

type Gemini struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type AgentConfig struct {
	MaxTokens int `yaml:"max_tokens"`
}

type Search struct {
	Backends   []string      `yaml:"backends"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
	Tavily     Tavily        `yaml:"tavily"`
	NewsAPI    NewsAPI       `yaml:"newsapi"`
	Feeds      []Feed        `yaml:"feeds"`
}

type Tavily struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Depth     string `yaml:"depth"`
}

type NewsAPI struct {
	APIKeyEnv string `yaml:"api_key_env"`
	DaysBack  int    `yaml:"days_back"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Scrape struct {
	Enabled  bool          `yaml:"enabled"`
	MaxChars int           `yaml:"max_chars"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Retry struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	ParseRetries   int           `yaml:"parse_retries"`
	PlanRetries    int           `yaml:"plan_retries"`
}

type Output struct {
	DataDir    string `yaml:"data_dir"`
	ReportsDir string `yaml:"reports_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

var (
	knownProviders = []string{"ollama", "openai", "azure", "gemini"}
	knownBackends  = []string{"duckduckgo", "tavily", "newsapi", "feeds"}
)

// ConfigDir returns the XDG config directory for airesearch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "airesearch")
}

// DataDir returns the XDG data directory for airesearch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "airesearch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/airesearch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'airesearch init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
// research.max_iterations is deliberately left at zero when absent.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Research: Research{
			MaxSubtopics:       5,
			MaxHitsPerQuery:    5,
			MaxURLsPerSubtopic: 4,
			Concurrency:        4,
		},
		LLM: LLM{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   1024,
			Azure: Azure{
				EndpointEnv: "AZURE_OPENAI_ENDPOINT",
				APIKeyEnv:   "AZURE_OPENAI_API_KEY",
				APIVersion:  "2024-08-01-preview",
			},
			Gemini: Gemini{
				Model:     "gemini-2.5-flash",
				APIKeyEnv: "GEMINI_API_KEY",
			},
		},
		Search: Search{
			Backends:   []string{"duckduckgo"},
			MaxResults: 5,
			Timeout:    15 * time.Second,
			Tavily:     Tavily{APIKeyEnv: "TAVILY_API_KEY", Depth: "basic"},
			NewsAPI:    NewsAPI{APIKeyEnv: "NEWSAPI_KEY", DaysBack: 30},
		},
		Scrape: Scrape{
			Enabled:  true,
			MaxChars: 4000,
			Timeout:  15 * time.Second,
		},
		Retry: Retry{
			MaxRetries:     2,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			CallTimeout:    120 * time.Second,
			ParseRetries:   1,
			PlanRetries:    2,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate reports the first configuration problem that would make a
// research session impossible to run.
func (c *Config) Validate() error {
	if c.Research.MaxIterations < 1 {
		return fmt.Errorf("research.max_iterations must be set to a value >= 1 (got %d)", c.Research.MaxIterations)
	}
	if !contains(knownProviders, strings.ToLower(c.LLM.Provider)) {
		return fmt.Errorf("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(knownProviders, ", "))
	}
	if len(c.Search.Backends) == 0 {
		return fmt.Errorf("search.backends must list at least one backend")
	}
	for _, b := range c.Search.Backends {
		if !contains(knownBackends, strings.ToLower(b)) {
			return fmt.Errorf("search backend %q is not one of %s", b, strings.Join(knownBackends, ", "))
		}
	}
	if c.Retry.MaxRetries < 0 || c.Retry.ParseRetries < 0 || c.Retry.PlanRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	return nil
}

// MaxTokensFor returns the token budget for an agent role, falling back to
// llm.max_tokens.
func (c *Config) MaxTokensFor(role string) int {
	if a, ok := c.Agents[role]; ok && a.MaxTokens > 0 {
		return a.MaxTokens
	}
	return c.LLM.MaxTokens
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetReportsDir returns where markdown reports are written.
func (c *Config) GetReportsDir() string {
	if c.Output.ReportsDir != "" {
		return c.Output.ReportsDir
	}
	return filepath.Join(c.GetDataDir(), "reports")
}

// SlogLevel maps the configured level name onto a slog level.
func (l Logging) SlogLevel() slog.Level {
	switch strings.ToUpper(l.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
