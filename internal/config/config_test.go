package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Port != 8780 {
		t.Errorf("HTTP.Port = %d, want 8780", cfg.HTTP.Port)
	}
	if cfg.Search.BM25K1 != 1.2 || cfg.Search.BM25B != 0.75 {
		t.Errorf("BM25 defaults = %v/%v, want 1.2/0.75", cfg.Search.BM25K1, cfg.Search.BM25B)
	}
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{"http": {"port": 9100}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Errorf("HTTP.Port = %d, want 9100", cfg.HTTP.Port)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{"http": {"port": 9100}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTP_PORT", "9200")
	t.Setenv("TOKEN", "shh")
	t.Setenv("TOPIC_SIM_THRESHOLD", "0.9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Port != 9200 {
		t.Errorf("HTTP.Port = %d, want 9200 (env must win over file)", cfg.HTTP.Port)
	}
	if cfg.HTTP.Token != "shh" {
		t.Errorf("HTTP.Token = %q, want %q", cfg.HTTP.Token, "shh")
	}
	if cfg.Classifier.TopicSimThreshold != 0.9 {
		t.Errorf("TopicSimThreshold = %v, want 0.9", cfg.Classifier.TopicSimThreshold)
	}
}

func TestCorsOrigins_AcceptsArrayAndCommaList(t *testing.T) {
	tests := []struct {
		name string
		json string
		want []string
	}{
		{"array", `{"http":{"corsOrigins":["a.example","b.example"]}}`, []string{"a.example", "b.example"}},
		{"comma string", `{"http":{"corsOrigins":"a.example, b.example"}}`, []string{"a.example", "b.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json5")
			if err := os.WriteFile(path, []byte(tt.json), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatal(err)
			}
			got := []string(cfg.HTTP.CORSOrigins)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCorsOrigins_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{"http":{"corsOrigins":["file.example"]}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CORS_ORIGINS", "a.example,b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.example", "b.example"}
	got := []string(cfg.HTTP.CORSOrigins)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHash_ChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Error("two default configs should hash identically")
	}
	b.HTTP.Port = 9999
	if a.Hash() == b.Hash() {
		t.Error("changing a field should change the hash")
	}
}

func TestSave_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = 7777
	path := filepath.Join(t.TempDir(), "sub", "config.json5")

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.HTTP.Port != 7777 {
		t.Errorf("HTTP.Port = %d, want 7777", reloaded.HTTP.Port)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	tests := []struct {
		in   string
		want string
	}{
		{"~/foo/bar", home + "/foo/bar"},
		{"~", home},
		{"/absolute/path", "/absolute/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRerankLexicalWeight_DerivedFromVectorWeight(t *testing.T) {
	t.Setenv("RERANK_VECTOR_WEIGHT", "0.6")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.RerankVectorWeight != 0.6 {
		t.Errorf("RerankVectorWeight = %v, want 0.6", cfg.Search.RerankVectorWeight)
	}
	if cfg.Search.RerankLexicalWeight != 0.4 {
		t.Errorf("RerankLexicalWeight = %v, want 0.4", cfg.Search.RerankLexicalWeight)
	}
}
