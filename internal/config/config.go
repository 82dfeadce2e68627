// Package config handles loading foreman configuration.
//
// Values resolve in three layers: compiled defaults, then an optional
// foreman.toml file, then environment variables. Environment variables
// always win so deployments can override a checked-in file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath names the environment variable pointing at a config file.
const EnvConfigPath = "FOREMAN_CONFIG"

// DefaultFileName is the config file looked for in the working directory
// when no explicit path is given.
const DefaultFileName = "foreman.toml"

// Config holds all daemon settings.
type Config struct {
	// APIPort is the HTTP listen port for the session API.
	APIPort int `toml:"api-port"`

	// DataDir is where the durable session snapshot lives.
	DataDir string `toml:"data-dir"`

	// WorkspaceRoot is the directory under which per-session clone
	// workspaces are created.
	WorkspaceRoot string `toml:"workspace-root"`

	// MaxConcurrentSessions caps how many sessions run at once.
	MaxConcurrentSessions int `toml:"max-concurrent-sessions"`

	Github   Github   `toml:"github"`
	Git      Git      `toml:"git"`
	Opencode Opencode `toml:"opencode"`
}

// Github contains settings for the GitHub API and clone credentials.
type Github struct {
	// Token is the process-wide default credential. Sessions may carry
	// their own override.
	Token string `toml:"token"`

	// BaseBranch is the preferred pull request base. When it does not
	// exist on the remote, the remote's default branch is used instead.
	BaseBranch string `toml:"base-branch"`

	// APIURL is the GitHub REST endpoint, overridable for testing.
	APIURL string `toml:"api-url"`
}

// Git contains the commit author identity used in session workspaces.
type Git struct {
	UserName  string `toml:"user-name"`
	UserEmail string `toml:"user-email"`
}

// Opencode configures how the external agent is invoked.
type Opencode struct {
	// CommandTemplate is the shell command run for each session. It
	// receives the session context through OPENCODE_* environment
	// variables.
	CommandTemplate string `toml:"command-template"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		APIPort:               3001,
		DataDir:               "data",
		WorkspaceRoot:         filepath.Join("data", "workspaces"),
		MaxConcurrentSessions: 2,
		Github: Github{
			BaseBranch: "main",
			APIURL:     "https://api.github.com",
		},
		Git: Git{
			UserName:  "Background Coding Agent",
			UserEmail: "agent@local",
		},
		Opencode: Opencode{
			CommandTemplate: `bash -lc "echo OPENCODE_COMMAND_TEMPLATE is not configured"`,
		},
	}
}

// Load resolves the effective configuration. path may be empty, in which
// case FOREMAN_CONFIG and then ./foreman.toml are consulted; a missing
// file is not an error unless it was named explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFileName
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if explicit {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.APIPort <= 0 {
		return Config{}, fmt.Errorf("api-port must be positive, got %d", cfg.APIPort)
	}
	if cfg.MaxConcurrentSessions <= 0 {
		return Config{}, fmt.Errorf("max-concurrent-sessions must be positive, got %d", cfg.MaxConcurrentSessions)
	}

	return cfg, nil
}

// StorePath returns the location of the durable session snapshot.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "sessions.json")
}

// Redacted returns a copy safe for display, with credentials masked.
func (c Config) Redacted() Config {
	if c.Github.Token != "" {
		c.Github.Token = "(set)"
	}
	return c
}

func applyEnv(cfg *Config) error {
	envString("DATA_DIR", &cfg.DataDir)
	envString("WORKSPACE_ROOT", &cfg.WorkspaceRoot)
	envString("GITHUB_TOKEN", &cfg.Github.Token)
	envString("GITHUB_BASE_BRANCH", &cfg.Github.BaseBranch)
	envString("GITHUB_API_URL", &cfg.Github.APIURL)
	envString("GIT_USER_NAME", &cfg.Git.UserName)
	envString("GIT_USER_EMAIL", &cfg.Git.UserEmail)
	envString("OPENCODE_COMMAND_TEMPLATE", &cfg.Opencode.CommandTemplate)
	if err := envInt("API_PORT", &cfg.APIPort); err != nil {
		return err
	}
	return envInt("MAX_CONCURRENT_SESSIONS", &cfg.MaxConcurrentSessions)
}

func envString(key string, dst *string) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		*dst = value
	}
}

func envInt(key string, dst *int) error {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}
