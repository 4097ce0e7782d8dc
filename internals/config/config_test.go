package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.ImageRetention != 10 {
		t.Errorf("image_retention = %d", cfg.ImageRetention)
	}
	if cfg.Display.ScreenshotDelay != 2*time.Second {
		t.Errorf("screenshot_delay = %s", cfg.Display.ScreenshotDelay)
	}
	if len(cfg.Tools.Enabled) != 3 {
		t.Errorf("tools.enabled = %v", cfg.Tools.Enabled)
	}
	if _, ok := cfg.Presets["look"]; !ok {
		t.Error("default presets missing")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
model: claude-test
image_retention: 3
display:
  width: 1280
  height: 800
  screenshot_delay: 500ms
tools:
  enabled: [bash]
presets:
  demo:
    prompt: open firefox
    image_retention: 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "claude-test" || cfg.ImageRetention != 3 {
		t.Errorf("cfg = %s", cfg)
	}
	if cfg.Display.Width != 1280 || cfg.Display.ScreenshotDelay != 500*time.Millisecond {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.Display.Height != 800 {
		t.Errorf("height = %d", cfg.Display.Height)
	}
	if len(cfg.Tools.Enabled) != 1 || cfg.Tools.Enabled[0] != "bash" {
		t.Errorf("tools.enabled = %v", cfg.Tools.Enabled)
	}

	p, err := cfg.Preset("demo")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if p.Prompt != "open firefox" || cfg.ImageRetentionFor(p) != 1 {
		t.Errorf("preset = %+v", p)
	}
	if _, err := cfg.Preset("missing"); err == nil {
		t.Error("expected unknown preset error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("image_retention: 3\n"), 0o644)
	t.Setenv("DESKDROID_IMAGE_RETENTION", "7")
	t.Setenv("DESKDROID_DISPLAY_WIDTH", "640")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ImageRetention != 7 {
		t.Errorf("image_retention = %d", cfg.ImageRetention)
	}
	if cfg.Display.Width != 640 {
		t.Errorf("display.width = %d", cfg.Display.Width)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("display: [not, a, map"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown provider", func(c *Config) { c.Provider = "openai" }, "provider"},
		{"bedrock without region", func(c *Config) { c.Provider = "bedrock" }, "bedrock.region"},
		{"vertex without project", func(c *Config) { c.Provider = "vertex"; c.Vertex.Region = "us-east5" }, "vertex"},
		{"negative tokens", func(c *Config) { c.MaxTokens = -1 }, "max_tokens"},
		{"bad display", func(c *Config) { c.Display.Width = 0 }, "display"},
		{"bad format", func(c *Config) { c.Transcript.Format = "xml" }, "transcript.format"},
		{"bad publish", func(c *Config) { c.Transcript.Publish = "dropbox" }, "transcript.publish"},
		{"unknown tool", func(c *Config) { c.Tools.Enabled = []string{"laser"} }, "laser"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("TEST_DESKDROID_KEY", "secret123")

	if got := ResolveEnvVars("${TEST_DESKDROID_KEY}"); got != "secret123" {
		t.Errorf("got %q", got)
	}
	if got := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}"); got != "" {
		t.Errorf("got %q", got)
	}
	if got := ResolveEnvVars("literal-value"); got != "literal-value" {
		t.Errorf("got %q", got)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	now := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()

	got := cfg.BuildSystemPrompt(Preset{}, now)
	if !strings.Contains(got, "Tuesday, March 4, 2025") {
		t.Errorf("date not expanded: %q", got)
	}
	if strings.Contains(got, "{{") {
		t.Errorf("unexpanded placeholder: %q", got)
	}

	cfg.SystemPromptSuffix = "Be brief."
	got = cfg.BuildSystemPrompt(Preset{SystemPrompt: "Custom on {{arch}}."}, now)
	if !strings.HasPrefix(got, "Custom on ") || !strings.HasSuffix(got, " Be brief.") {
		t.Errorf("prompt = %q", got)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskdroid.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "# deskdroid configuration") {
		t.Error("missing header")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Display.ScreenshotDelay != 2*time.Second || cfg.Tools.BashTimeout != 2*time.Minute {
		t.Errorf("durations = %s, %s", cfg.Display.ScreenshotDelay, cfg.Tools.BashTimeout)
	}
	if _, err := cfg.Preset("careful"); err != nil {
		t.Errorf("presets not written: %v", err)
	}
}
