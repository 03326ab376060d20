package roles

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/taskpilot/orchestrator/internal/director"
)

type samplingConfig struct {
	Sampling map[string]director.Defaults `yaml:"sampling"`
	Model    struct {
		ContextWindow int  `yaml:"context_window"`
		SupportsTopK  bool `yaml:"supports_top_k"`
	} `yaml:"model"`
}

var (
	mu          sync.RWMutex
	loaded      *samplingConfig
	initialized bool
)

var defaultPaths = []string{
	os.Getenv("ROLES_CONFIG_PATH"),
	"/app/config/roles.yaml",
	"./config/roles.yaml",
	"../../config/roles.yaml",
}

func loadLocked() {
	var cfg samplingConfig
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp samplingConfig
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Printf("WARNING: failed to unmarshal role sampling config from %s: %v", p, err)
			continue
		}
		cfg = tmp
		log.Printf("Loaded role sampling configuration from %s", p)
		break
	}
	if len(cfg.Sampling) == 0 && cfg.Model.ContextWindow == 0 {
		if path, ok := findUpConfig(); ok {
			if data, err := os.ReadFile(path); err == nil {
				var tmp samplingConfig
				if err := yaml.Unmarshal(data, &tmp); err == nil {
					cfg = tmp
					log.Printf("Loaded role sampling configuration from %s", path)
				}
			}
		}
	}
	loaded = &cfg
	initialized = true
}

func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "roles.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func get() *samplingConfig {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// DefaultsForRole returns the configured baseline sampling settings for a
// role name ("planning", "acting", "validation"), falling back to built-in
// conservative defaults when no config file is present.
func DefaultsForRole(role string) director.Defaults {
	cfg := get()
	if cfg != nil && cfg.Sampling != nil {
		if d, ok := cfg.Sampling[strings.ToLower(strings.TrimSpace(role))]; ok {
			return d
		}
	}
	if d, ok := builtInDefaults[strings.ToLower(strings.TrimSpace(role))]; ok {
		return d
	}
	return builtInDefaults["acting"]
}

// ModelLimits returns the configured model context window and top-k support.
func ModelLimits() (contextWindow int, supportsTopK bool) {
	cfg := get()
	if cfg != nil && cfg.Model.ContextWindow > 0 {
		return cfg.Model.ContextWindow, cfg.Model.SupportsTopK
	}
	return 128000, false
}

var builtInDefaults = map[string]director.Defaults{
	"planning": {
		Temperature:      0.3,
		TopP:             0.9,
		TopK:             40,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
		MaxTokens:        1024,
	},
	"acting": {
		Temperature:      0.1,
		TopP:             0.85,
		TopK:             40,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
		MaxTokens:        2048,
	},
	"validation": {
		Temperature:      0,
		TopP:             0.8,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
		MaxTokens:        512,
	},
}

// Reload drops the cached sampling config and re-reads it on next access.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	loadLocked()
}
