// Package config handles configuration loading for crossroads.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sambaleuk/crossroads/pkg/models"
)

// Config holds all configuration for crossroads.
type Config struct {
	Agents     AgentsConfig     `mapstructure:"agents"`
	Scripts    ScriptsConfig    `mapstructure:"scripts"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Git        GitConfig        `mapstructure:"git"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
}

// AgentsConfig maps agent kinds to the CLI command that drives them.
type AgentsConfig struct {
	Claude   string `mapstructure:"claude"`
	Codex    string `mapstructure:"codex"`
	Gemini   string `mapstructure:"gemini"`
	Opencode string `mapstructure:"opencode"`
}

// Command returns the configured CLI command for an agent kind.
func (a *AgentsConfig) Command(kind models.AgentKind) string {
	switch kind {
	case models.AgentClaude:
		return a.Claude
	case models.AgentCodex:
		return a.Codex
	case models.AgentGemini:
		return a.Gemini
	case models.AgentOpencode:
		return a.Opencode
	default:
		return string(kind)
	}
}

// ScriptsConfig controls loop-script resolution and invocation.
type ScriptsConfig struct {
	// SearchPaths are directories probed for <agent>-loop.sh, in order.
	SearchPaths []string `mapstructure:"search_paths"`
	// MaxIterations is the first positional argument passed to loop scripts.
	MaxIterations int `mapstructure:"max_iterations"`
	// SleepSeconds is the second positional argument passed to loop scripts.
	SleepSeconds int `mapstructure:"sleep_seconds"`
}

// SchedulerConfig holds dispatcher timing knobs.
type SchedulerConfig struct {
	// PollInterval is the status watcher's polling interval.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ReadinessWait is how long to wait after launch before sending the
	// first input to an agent.
	ReadinessWait time.Duration `mapstructure:"readiness_wait"`
}

// GitConfig holds repository tool settings.
type GitConfig struct {
	// CommandTimeout is the per-command deadline for git invocations.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	// WorktreeBaseDir is where slot working copies are created. Empty means
	// a "worktrees" directory inside the repository's .crossroads directory.
	WorktreeBaseDir string `mapstructure:"worktree_base_dir"`
}

// SupervisorConfig holds process supervision settings.
type SupervisorConfig struct {
	// KillGrace is the SIGTERM-to-SIGKILL grace period.
	KillGrace time.Duration `mapstructure:"kill_grace"`
}

// setDefaults installs built-in defaults on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("agents.claude", "claude")
	v.SetDefault("agents.codex", "codex")
	v.SetDefault("agents.gemini", "gemini")
	v.SetDefault("agents.opencode", "opencode")
	v.SetDefault("scripts.search_paths", []string{})
	v.SetDefault("scripts.max_iterations", 50)
	v.SetDefault("scripts.sleep_seconds", 10)
	v.SetDefault("scheduler.poll_interval", 5*time.Second)
	v.SetDefault("scheduler.readiness_wait", 800*time.Millisecond)
	v.SetDefault("git.command_timeout", 60*time.Second)
	v.SetDefault("git.worktree_base_dir", "")
	v.SetDefault("supervisor.kill_grace", 2*time.Second)
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (CROSSROADS_*)
// 2. Project config (.crossroads/config.yaml in repoPath)
// 3. User config (~/.config/crossroads/config.yaml)
// 4. Built-in defaults
func Load(repoPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if repoPath != "" {
		projectConfig := filepath.Join(repoPath, ".crossroads", "config.yaml")
		if _, err := os.Stat(projectConfig); err == nil {
			projectViper := viper.New()
			projectViper.SetConfigFile(projectConfig)
			if err := projectViper.ReadInConfig(); err == nil {
				if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
					return nil, fmt.Errorf("merging project config: %w", err)
				}
			}
		}
	}

	v.SetEnvPrefix("CROSSROADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without touching disk.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// getUserConfigDir returns the XDG config directory for crossroads.
func getUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "crossroads")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crossroads"
	}
	return filepath.Join(home, ".config", "crossroads")
}
