// Package config implements §6's environment-driven configuration
// loading: a primary config file plus a directory of additional JSON
// files, deep-merged in lexicographic filename order, validated against a
// JSON Schema before being unmarshalled into typed server settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"
	"github.com/joeshaw/envdecode"
	"github.com/xeipuuv/gojsonschema"
)

// Env holds every environment-variable-driven setting: the config file and
// directory paths, plus connection details for the pluggable collaborators
// (storage driver DSN, message broker, auth signing key) that the core
// itself only consumes through interfaces.
type Env struct {
	ConfigFile  string `env:"MEDALLION_CONFFILE,default=/etc/medallion.conf"`
	ConfigDir   string `env:"MEDALLION_CONFDIR,default=/etc/medallion.d/"`
	PostgresDSN string `env:"MEDALLION_POSTGRES_DSN"`
	KafkaBrokers string `env:"MEDALLION_KAFKA_BROKERS"`
	JWTKeyPath  string `env:"MEDALLION_JWT_KEY_PATH"`
	ListenAddr  string `env:"MEDALLION_LISTEN_ADDR,default=:8080"`
}

// LoadEnv decodes process environment variables into an Env.
func LoadEnv() (Env, error) {
	var e Env
	if err := envdecode.Decode(&e); err != nil {
		return Env{}, fmt.Errorf("config: decoding environment: %w", err)
	}
	return e, nil
}

// CollectionConfig describes one configured collection.
type CollectionConfig struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CanRead     bool     `json:"can_read"`
	CanWrite    bool     `json:"can_write"`
	MediaTypes  []string `json:"media_types"`
}

// APIRootConfig describes one configured API root.
type APIRootConfig struct {
	Title            string                      `json:"title"`
	Description      string                      `json:"description"`
	Versions         []string                    `json:"versions"`
	MaxContentLength int                         `json:"max_content_length"`
	Collections      map[string]CollectionConfig `json:"collections"`
}

// DiscoveryConfig is the static discovery record.
type DiscoveryConfig struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Contact     string `json:"contact"`
	Default     string `json:"default"`
}

// ServerConfig is the fully merged, schema-validated configuration.
type ServerConfig struct {
	Discovery             DiscoveryConfig          `json:"discovery"`
	APIRoots              map[string]APIRootConfig `json:"api_roots"`
	Backend                string                   `json:"backend"`
	SessionTimeoutSeconds  float64                  `json:"session_timeout"`
	StatusRetentionSeconds float64                  `json:"status_retention"`
	SweepIntervalSeconds   float64                  `json:"sweep_interval"`
	InteropRequirements    bool                     `json:"interop_requirements"`

	Env Env `json:"-"`
}

const confDirSuffix1 = ".json"
const confDirSuffix2 = ".conf"

func loadJSONFile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("config: invalid JSON data in %s: %w", path, err)
	}
	return data, nil
}

func listConfDirFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		suffix := filepath.Ext(e.Name())
		if suffix == confDirSuffix1 || suffix == confDirSuffix2 {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Load reads env.ConfigFile and every suffix-matching file under
// env.ConfigDir, deep-merges them in lexicographic filename order (later
// files override earlier), validates the merged document against the
// server's JSON Schema, and unmarshals it into a ServerConfig.
func Load(env Env) (*ServerConfig, error) {
	var files []string
	if env.ConfigFile != "" {
		if _, err := os.Stat(env.ConfigFile); err == nil {
			files = append(files, env.ConfigFile)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if env.ConfigDir != "" {
		dirFiles, err := listConfDirFiles(env.ConfigDir)
		if err != nil {
			return nil, err
		}
		files = append(files, dirFiles...)
	}

	merged := map[string]interface{}{}
	for _, f := range files {
		data, err := loadJSONFile(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if err := mergo.Merge(&merged, data, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merging %s: %w", f, err)
		}
	}

	if err := validateSchema(merged); err != nil {
		return nil, err
	}

	buf, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg ServerConfig
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	cfg.Env = env
	return &cfg, nil
}

func validateSchema(doc map[string]interface{}) error {
	schemaLoader := gojsonschema.NewStringLoader(serverConfigSchema)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("config: schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("config: invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return nil
}

const serverConfigSchema = `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "properties": {
    "discovery": {
      "type": "object",
      "properties": {
        "title": {"type": "string"},
        "description": {"type": "string"},
        "contact": {"type": "string"},
        "default": {"type": "string"}
      }
    },
    "backend": {"type": "string", "enum": ["memory", "postgres"]},
    "session_timeout": {"type": "number", "minimum": 0},
    "status_retention": {"type": "number", "minimum": 0},
    "sweep_interval": {"type": "number", "minimum": 0},
    "interop_requirements": {"type": "boolean"},
    "api_roots": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "versions": {"type": "array", "items": {"type": "string"}},
          "max_content_length": {"type": "integer", "minimum": 0},
          "collections": {
            "type": "object",
            "additionalProperties": {
              "type": "object",
              "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "can_read": {"type": "boolean"},
                "can_write": {"type": "boolean"},
                "media_types": {"type": "array", "items": {"type": "string"}}
              }
            }
          }
        }
      }
    }
  }
}`
