package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadFrom(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.UserID != "default" || s.ConversationID != "default" {
		t.Errorf("defaults = %q/%q", s.UserID, s.ConversationID)
	}
	if s.DataDir != filepath.Join(dir, "data") {
		t.Errorf("DataDir = %q", s.DataDir)
	}
	if s.Text.Provider != "openai" || s.Archive.Backend != "local" {
		t.Errorf("provider/backend = %q/%q", s.Text.Provider, s.Archive.Backend)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &Settings{
		UserID:         "alice",
		ConversationID: "work",
		Text:           Text{Provider: "gemini", Model: "gemini-2.0-flash"},
		Memory:         Memory{BaseURL: "http://localhost:8765"},
	}
	if err := Save(dir, want); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFrom(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "alice" || got.ConversationID != "work" {
		t.Errorf("identity = %q/%q", got.UserID, got.ConversationID)
	}
	if got.Text.Provider != "gemini" || got.Text.Model != "gemini-2.0-flash" {
		t.Errorf("text = %+v", got.Text)
	}
	if got.Memory.BaseURL != "http://localhost:8765" {
		t.Errorf("memory = %+v", got.Memory)
	}
}

func TestLoadFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte(":\tnot yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(dir); err == nil {
		t.Error("corrupt settings should fail loudly, not silently default")
	}
}

func TestEnvOverridesToken(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &Settings{Memory: Memory{Token: "from-file"}}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DAWN_MEMORY_TOKEN", "from-env")

	s, err := LoadFrom(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Memory.Token != "from-env" {
		t.Errorf("token = %q, want env override", s.Memory.Token)
	}
}

func TestEnvAPIKeyMatchesProvider(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &Settings{Text: Text{Provider: "gemini"}}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("GEMINI_API_KEY", "sk-gemini")

	s, err := LoadFrom(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Text.APIKey != "sk-gemini" {
		t.Errorf("api key = %q, want the configured provider's key", s.Text.APIKey)
	}
}
