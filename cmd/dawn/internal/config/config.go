// Package config loads the dawn CLI configuration.
//
// Settings live in a single YAML file under os.UserConfigDir()/dawn/:
//
//	~/Library/Application Support/dawn/dawn.yaml   (macOS)
//	~/.config/dawn/dawn.yaml                       (Linux)
//	%AppData%/dawn/dawn.yaml                       (Windows)
//
// API keys and tokens may also come from the environment, which takes
// precedence over the file: OPENAI_API_KEY, GEMINI_API_KEY,
// DAWN_MEMORY_TOKEN, DAWN_REALTIME_TOKEN.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

const (
	// appDir is the directory name under os.UserConfigDir().
	appDir = "dawn"

	// settingsFile is the YAML file holding all settings.
	settingsFile = "dawn.yaml"
)

// Settings is the full configuration of the dawn CLI.
type Settings struct {
	// UserID scopes long-term memory and archives. Defaults to "default".
	UserID string `yaml:"user_id"`

	// ConversationID names the persisted transcript. Defaults to "default".
	ConversationID string `yaml:"conversation_id"`

	// DataDir is the BadgerDB directory for the persisted transcript.
	// Defaults to <config dir>/data.
	DataDir string `yaml:"data_dir"`

	Text     Text     `yaml:"text"`
	Memory   Memory   `yaml:"memory"`
	Realtime Realtime `yaml:"realtime"`
	Archive  Archive  `yaml:"archive"`
}

// Text configures the text-mode completion provider.
type Text struct {
	// Provider is "openai" or "gemini". Defaults to "openai".
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Memory configures the long-term memory provider.
type Memory struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// Realtime configures the realtime voice transport.
type Realtime struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Archive configures transcript export.
type Archive struct {
	// Backend is "local" or "s3". Defaults to "local".
	Backend string `yaml:"backend"`

	// Dir is the local archive directory (local backend).
	Dir string `yaml:"dir"`

	// Bucket and Prefix select the S3 destination (s3 backend).
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Region and Endpoint configure the S3 client. Endpoint is optional
	// and enables S3-compatible stores (MinIO, R2). Credentials come from
	// AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY.
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Dir returns the dawn configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// Load reads settings from the default location. A missing file yields
// defaults rather than an error, so first runs work without setup.
func Load() (*Settings, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom reads settings from a specific configuration directory.
func LoadFrom(dir string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(filepath.Join(dir, settingsFile))
	if err == nil {
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, settingsFile), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	s.applyDefaults(dir)
	s.applyEnv()
	return s, nil
}

// Save writes settings to the given configuration directory.
func Save(dir string, s *Settings) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, settingsFile), data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Path returns the settings file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, settingsFile)
}

func (s *Settings) applyDefaults(dir string) {
	if s.UserID == "" {
		s.UserID = "default"
	}
	if s.ConversationID == "" {
		s.ConversationID = "default"
	}
	if s.DataDir == "" {
		s.DataDir = filepath.Join(dir, "data")
	}
	if s.Text.Provider == "" {
		s.Text.Provider = "openai"
	}
	if s.Archive.Backend == "" {
		s.Archive.Backend = "local"
	}
	if s.Archive.Dir == "" {
		s.Archive.Dir = filepath.Join(dir, "archives")
	}
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && s.Text.Provider == "openai" {
		s.Text.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && s.Text.Provider == "gemini" {
		s.Text.APIKey = v
	}
	if v := os.Getenv("DAWN_MEMORY_TOKEN"); v != "" {
		s.Memory.Token = v
	}
	if v := os.Getenv("DAWN_REALTIME_TOKEN"); v != "" {
		s.Realtime.Token = v
	}
}
