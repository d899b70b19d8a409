// Package config loads the daemon's single Config value.
//
// Nothing outside this package reads an environment variable or a flag
// directly: Config is built once at startup and passed down explicitly,
// per the "inject a Config value, forbid hidden reads" design note.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for engramd.
type Config struct {
	Home     string         `yaml:"home" json:"home"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Embed    EmbedConfig    `yaml:"embed" json:"embed"`
	Extract  ExtractConfig  `yaml:"extract" json:"extract"`
	Tailer   TailerConfig   `yaml:"tailer" json:"tailer"`
	Consolid ConsolidConfig `yaml:"consolidate" json:"consolidate"`

	// ProjectRoots is CLAUDE_MEMORY_PROJECT_ROOTS, colon-separated.
	ProjectRoots []string `yaml:"-" json:"project_roots"`
}

// ServerConfig holds the IPC socket and internal event-bus settings.
type ServerConfig struct {
	SocketPath  string `yaml:"socket_path" json:"socket_path"`
	NATSPort    int    `yaml:"nats_port" json:"nats_port"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// EmbedConfig configures the embedding provider chain (C2).
type EmbedConfig struct {
	Dims        int    `yaml:"dims" json:"dims"`
	LocalModel  string `yaml:"local_model" json:"local_model"`
	HostedURL   string `yaml:"hosted_url" json:"hosted_url"`
	HostedModel string `yaml:"hosted_model" json:"hosted_model"`
	HostedKey   string `yaml:"-" json:"-"`
}

// ExtractConfig configures the external chat-completion provider (C5).
type ExtractConfig struct {
	ChatURL   string `yaml:"chat_url" json:"chat_url"`
	ChatModel string `yaml:"chat_model" json:"chat_model"`
	ChatKey   string `yaml:"-" json:"-"`
}

// TailerConfig configures the session tailer's batching policy (C6).
type TailerConfig struct {
	TranscriptsDir  string        `yaml:"transcripts_dir" json:"transcripts_dir"`
	BatchThreshold  int           `yaml:"batch_threshold" json:"batch_threshold"`
	IdleDebounce    time.Duration `yaml:"idle_debounce" json:"idle_debounce"`
	StartupSettle   time.Duration `yaml:"startup_settle" json:"startup_settle"`
	RecollectTopK   int           `yaml:"recollect_top_k" json:"recollect_top_k"`
}

// ConsolidConfig configures the consolidator's timer (C7).
type ConsolidConfig struct {
	Interval             time.Duration `yaml:"interval" json:"interval"`
	MaxGraduatedPerCycle int           `yaml:"max_graduated_per_cycle" json:"max_graduated_per_cycle"`
	MaxMemoryLines       int           `yaml:"max_memory_lines" json:"max_memory_lines"`
}

// DIMS is the fixed embedding dimensionality mandated by spec.md §3.
const DIMS = 768

// Default returns the default configuration, rooted under the user's home
// memory directory (mirrors the teacher's DefaultConfig/DefaultAiderConfig
// pair).
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	memHome := filepath.Join(home, ".claude", "memory")

	return &Config{
		Home: memHome,
		Server: ServerConfig{
			SocketPath:  filepath.Join(memHome, "engram.sock"),
			NATSPort:    -1, // -1 = let the OS pick an ephemeral port
			MetricsAddr: "127.0.0.1:9732",
		},
		Embed: EmbedConfig{
			Dims:        DIMS,
			LocalModel:  "",
			HostedURL:   "http://localhost:1234/v1",
			HostedModel: "text-embedding-qwen3-embedding-0.6b",
		},
		Extract: ExtractConfig{
			ChatURL:   "http://localhost:1234/v1",
			ChatModel: "gpt-4.1-nano",
		},
		Tailer: TailerConfig{
			TranscriptsDir: filepath.Join(home, ".claude", "projects"),
			BatchThreshold: 8,
			IdleDebounce:   45 * time.Second,
			StartupSettle:  60 * time.Second,
			RecollectTopK:  5,
		},
		Consolid: ConsolidConfig{
			Interval:             15 * time.Minute,
			MaxGraduatedPerCycle: 10,
			MaxMemoryLines:       200,
		},
	}
}

// Load reads an optional YAML file over the defaults, then applies
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if roots := os.Getenv("CLAUDE_MEMORY_PROJECT_ROOTS"); roots != "" {
		for _, r := range strings.Split(roots, ":") {
			if r = strings.TrimSpace(r); r != "" {
				c.ProjectRoots = append(c.ProjectRoots, r)
			}
		}
	}
	if home := os.Getenv("CLAUDE_MEMORY_HOME"); home != "" {
		c.Home = home
	}
	if key := os.Getenv("CLAUDE_MEMORY_EMBED_KEY"); key != "" {
		c.Embed.HostedKey = key
	}
	if key := os.Getenv("CLAUDE_MEMORY_CHAT_KEY"); key != "" {
		c.Extract.ChatKey = key
	}
	if p := os.Getenv("CLAUDE_MEMORY_NATS_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			c.Server.NATSPort = n
		}
	}
}

// Validate checks invariants the daemon relies on at construction time.
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home directory is required")
	}
	if c.Embed.Dims != DIMS {
		return fmt.Errorf("embed.dims must be %d, got %d", DIMS, c.Embed.Dims)
	}
	if c.Tailer.BatchThreshold <= 0 {
		return fmt.Errorf("tailer.batch_threshold must be positive")
	}
	if c.Consolid.MaxMemoryLines <= 0 {
		return fmt.Errorf("consolidate.max_memory_lines must be positive")
	}
	return nil
}

// DBPath is memory.db under Home.
func (c *Config) DBPath() string { return filepath.Join(c.Home, "memory.db") }

// GlobalMemoryPath is the global curated MEMORY.md under Home.
func (c *Config) GlobalMemoryPath() string { return filepath.Join(c.Home, "MEMORY.md") }

// ArchiveDir is the archive/ directory under Home.
func (c *Config) ArchiveDir() string { return filepath.Join(c.Home, "archive") }

// ModelsDir is the models/ directory under Home.
func (c *Config) ModelsDir() string { return filepath.Join(c.Home, "models") }

// RecollectionsDir is the recollections/ directory under Home.
func (c *Config) RecollectionsDir() string { return filepath.Join(c.Home, "recollections") }

// PIDFile is engram.pid under Home.
func (c *Config) PIDFile() string { return filepath.Join(c.Home, "engram.pid") }

// StateFile is engram-state.json under Home.
func (c *Config) StateFile() string { return filepath.Join(c.Home, "engram-state.json") }

// StderrLog is engram.stderr.log under Home.
func (c *Config) StderrLog() string { return filepath.Join(c.Home, "engram.stderr.log") }
