// Package config loads the agent configuration from the environment, an
// optional .env file, and an optional mender.yaml overrides file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dealcetexplains-png/mender/internal/providerspec"
)

const (
	defaultRetryLimit    = 5
	defaultWorkspace     = "./workspace"
	defaultAPITimeout    = 25 * time.Second
	defaultCITimeout     = 300 * time.Second
	defaultRunTimeout    = 15 * time.Minute
	defaultOverridesFile = "mender.yaml"
	envRetryLimit        = "AGENT_RETRY_LIMIT"
	envWorkspace         = "AGENT_WORKSPACE"
	envAPITimeout        = "API_TIMEOUT"
	envRunTimeout        = "AGENT_RUN_TIMEOUT"
	envGitHubToken       = "GITHUB_TOKEN"
	envGitHubCITimeout   = "GITHUB_CI_TIMEOUT"
	envOverridesFile     = "AGENT_CONFIG_FILE"
)

// ConfigError reports a fatal configuration problem. No run is started.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "config error: " + e.Message }

// ProviderCred is one configured provider credential.
type ProviderCred struct {
	Key     string // canonical provider key
	APIKey  string
	BaseURL string // resolved endpoint (env override or builtin default)
}

// Config is the resolved agent configuration.
type Config struct {
	Providers       []ProviderCred
	RetryLimit      int
	Workspace       string
	APITimeout      time.Duration
	RunTimeout      time.Duration
	GitHubToken     string
	GitHubCITimeout time.Duration
	Overrides       Overrides
}

// HasProvider reports whether the canonical key is configured.
func (c Config) HasProvider(key string) bool {
	key = providerspec.CanonicalProviderKey(key)
	for _, p := range c.Providers {
		if p.Key == key {
			return true
		}
	}
	return false
}

// ProviderKeys returns configured provider keys in priority order.
func (c Config) ProviderKeys() []string {
	out := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, p.Key)
	}
	return out
}

// Load resolves the configuration. A .env file in the working directory is
// loaded first (actual environment always wins, godotenv.Load never
// overwrites existing keys). At least one provider credential must be
// present or Load fails with ConfigError.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		RetryLimit:      intEnv(envRetryLimit, defaultRetryLimit),
		Workspace:       stringEnv(envWorkspace, defaultWorkspace),
		APITimeout:      secondsEnv(envAPITimeout, defaultAPITimeout),
		RunTimeout:      secondsEnv(envRunTimeout, defaultRunTimeout),
		GitHubToken:     strings.TrimSpace(os.Getenv(envGitHubToken)),
		GitHubCITimeout: secondsEnv(envGitHubCITimeout, defaultCITimeout),
	}

	for _, key := range providerspec.ByPriority() {
		spec, _ := providerspec.Builtin(key)
		cred, ok := credFromEnv(spec)
		if !ok {
			continue
		}
		cfg.Providers = append(cfg.Providers, cred)
	}
	if len(cfg.Providers) == 0 {
		return Config{}, &ConfigError{Message: "no LLM provider credentials configured; set at least one of " + credentialEnvList()}
	}

	ov, err := LoadOverrides(stringEnv(envOverridesFile, defaultOverridesFile))
	if err != nil {
		return Config{}, err
	}
	cfg.Overrides = ov

	if cfg.RetryLimit < 1 {
		return Config{}, &ConfigError{Message: fmt.Sprintf("%s must be >= 1", envRetryLimit)}
	}
	return cfg, nil
}

func credFromEnv(spec providerspec.Spec) (ProviderCred, bool) {
	apiKey := strings.TrimSpace(os.Getenv(spec.APIKeyEnv))
	baseURL := spec.BaseURL
	if spec.BaseURLEnv != "" {
		if v := strings.TrimSpace(os.Getenv(spec.BaseURLEnv)); v != "" {
			baseURL = v
		} else if apiKey == "" {
			// The local provider is enabled by its endpoint, not a key.
			return ProviderCred{}, false
		}
	} else if apiKey == "" {
		return ProviderCred{}, false
	}
	return ProviderCred{Key: spec.Key, APIKey: apiKey, BaseURL: baseURL}, true
}

func credentialEnvList() string {
	var names []string
	for _, key := range providerspec.ByPriority() {
		spec, _ := providerspec.Builtin(key)
		if spec.BaseURLEnv != "" {
			names = append(names, spec.BaseURLEnv)
			continue
		}
		names = append(names, spec.APIKeyEnv)
	}
	return strings.Join(names, ", ")
}

func stringEnv(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func intEnv(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func secondsEnv(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
