package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "DESKDROID"

type Config struct {
	Provider           string            `mapstructure:"provider" yaml:"provider"`
	Model              string            `mapstructure:"model" yaml:"model"`
	APIKey             string            `mapstructure:"api_key" yaml:"api_key"`
	MaxTokens          int64             `mapstructure:"max_tokens" yaml:"max_tokens"`
	ImageRetention     int               `mapstructure:"image_retention" yaml:"image_retention"`
	MaxTurns           int               `mapstructure:"max_turns" yaml:"max_turns"`
	SystemPrompt       string            `mapstructure:"system_prompt" yaml:"system_prompt"`
	SystemPromptSuffix string            `mapstructure:"system_prompt_suffix" yaml:"system_prompt_suffix"`
	RequestsPerMinute  int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Presets            map[string]Preset `mapstructure:"presets" yaml:"presets"`

	Bedrock    BedrockConfig    `mapstructure:"bedrock" yaml:"bedrock"`
	Vertex     VertexConfig     `mapstructure:"vertex" yaml:"vertex"`
	Display    DisplayConfig    `mapstructure:"display" yaml:"display"`
	Tools      ToolsConfig      `mapstructure:"tools" yaml:"tools"`
	Transcript TranscriptConfig `mapstructure:"transcript" yaml:"transcript"`
	GitHub     GitHubConfig     `mapstructure:"github" yaml:"github"`
	GitLab     GitLabConfig     `mapstructure:"gitlab" yaml:"gitlab"`
	Slack      SlackConfig      `mapstructure:"slack" yaml:"slack"`
	Resume     ResumeConfig     `mapstructure:"resume" yaml:"resume"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// Preset is a named starting point for a run: a system prompt, a first user
// message and an image budget.
type Preset struct {
	SystemPrompt   string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	Prompt         string `mapstructure:"prompt" yaml:"prompt,omitempty"`
	ImageRetention *int   `mapstructure:"image_retention" yaml:"image_retention,omitempty"`
}

type BedrockConfig struct {
	Region string `mapstructure:"region" yaml:"region"`
}

type VertexConfig struct {
	Region  string `mapstructure:"region" yaml:"region"`
	Project string `mapstructure:"project" yaml:"project"`
}

type DisplayConfig struct {
	Width           int           `mapstructure:"width" yaml:"width"`
	Height          int           `mapstructure:"height" yaml:"height"`
	Number          int           `mapstructure:"number" yaml:"number"`
	ScreenshotDelay time.Duration `mapstructure:"screenshot_delay" yaml:"screenshot_delay"`
}

type ToolsConfig struct {
	Enabled       []string      `mapstructure:"enabled" yaml:"enabled"`
	ValidateInput bool          `mapstructure:"validate_input" yaml:"validate_input"`
	WorkDir       string        `mapstructure:"work_dir" yaml:"work_dir"`
	BashTimeout   time.Duration `mapstructure:"bash_timeout" yaml:"bash_timeout"`
}

type TranscriptConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Format  string `mapstructure:"format" yaml:"format"`
	Publish string `mapstructure:"publish" yaml:"publish"`
}

type GitHubConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
}

type GitLabConfig struct {
	Token   string `mapstructure:"token" yaml:"token"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type SlackConfig struct {
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	AppToken string `mapstructure:"app_token" yaml:"app_token"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

type ResumeConfig struct {
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	MaxWait  time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

var (
	validProviders = []string{"anthropic", "bedrock", "vertex"}
	validFormats   = []string{"json", "yaml"}
	validPublish   = []string{"", "github", "gitlab"}
	validTools     = []string{"computer", "bash", "str_replace_editor"}
)

// Load reads configuration from cfgFile, or from deskdroid.yaml in the
// working directory or $HOME/.deskdroid when cfgFile is empty. A missing file
// is not an error. DESKDROID_* environment variables override file values.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("deskdroid")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.deskdroid")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Presets) == 0 {
		cfg.Presets = DefaultPresets()
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("provider", d.Provider)
	v.SetDefault("model", d.Model)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("max_tokens", d.MaxTokens)
	v.SetDefault("image_retention", d.ImageRetention)
	v.SetDefault("max_turns", d.MaxTurns)
	v.SetDefault("system_prompt", d.SystemPrompt)
	v.SetDefault("system_prompt_suffix", d.SystemPromptSuffix)
	v.SetDefault("requests_per_minute", d.RequestsPerMinute)
	v.SetDefault("bedrock.region", d.Bedrock.Region)
	v.SetDefault("vertex.region", d.Vertex.Region)
	v.SetDefault("vertex.project", d.Vertex.Project)
	v.SetDefault("display.width", d.Display.Width)
	v.SetDefault("display.height", d.Display.Height)
	v.SetDefault("display.number", d.Display.Number)
	v.SetDefault("display.screenshot_delay", d.Display.ScreenshotDelay)
	v.SetDefault("tools.enabled", d.Tools.Enabled)
	v.SetDefault("tools.validate_input", d.Tools.ValidateInput)
	v.SetDefault("tools.work_dir", d.Tools.WorkDir)
	v.SetDefault("tools.bash_timeout", d.Tools.BashTimeout)
	v.SetDefault("transcript.dir", d.Transcript.Dir)
	v.SetDefault("transcript.format", d.Transcript.Format)
	v.SetDefault("transcript.publish", d.Transcript.Publish)
	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("gitlab.token", d.GitLab.Token)
	v.SetDefault("gitlab.base_url", d.GitLab.BaseURL)
	v.SetDefault("slack.bot_token", d.Slack.BotToken)
	v.SetDefault("slack.app_token", d.Slack.AppToken)
	v.SetDefault("slack.channel", d.Slack.Channel)
	v.SetDefault("resume.attempts", d.Resume.Attempts)
	v.SetDefault("resume.max_wait", d.Resume.MaxWait)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if !contains(validProviders, c.Provider) {
		return fmt.Errorf("provider %q must be one of %s", c.Provider, strings.Join(validProviders, ", "))
	}
	if c.Provider == "anthropic" && c.ResolvedAPIKey() == "" {
		return errors.New("api_key is required for the anthropic provider (set ANTHROPIC_API_KEY)")
	}
	if c.Provider == "bedrock" && c.Bedrock.Region == "" {
		return errors.New("bedrock.region is required for the bedrock provider")
	}
	if c.Provider == "vertex" && (c.Vertex.Region == "" || c.Vertex.Project == "") {
		return errors.New("vertex.region and vertex.project are required for the vertex provider")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got %d", c.MaxTokens)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	if !contains(validFormats, c.Transcript.Format) {
		return fmt.Errorf("transcript.format %q must be one of %s", c.Transcript.Format, strings.Join(validFormats, ", "))
	}
	if !contains(validPublish, c.Transcript.Publish) {
		return fmt.Errorf("transcript.publish %q must be github or gitlab", c.Transcript.Publish)
	}
	for _, name := range c.Tools.Enabled {
		if !contains(validTools, name) {
			return fmt.Errorf("unknown tool %q in tools.enabled", name)
		}
	}
	return nil
}

// ResolvedAPIKey expands ${VAR} references and falls back to
// ANTHROPIC_API_KEY.
func (c *Config) ResolvedAPIKey() string {
	if k := ResolveEnvVars(c.APIKey); k != "" {
		return k
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// Preset returns the named preset, or an error listing the known ones.
func (c *Config) Preset(name string) (Preset, error) {
	p, ok := c.Presets[name]
	if !ok {
		names := make([]string, 0, len(c.Presets))
		for n := range c.Presets {
			names = append(names, n)
		}
		return Preset{}, fmt.Errorf("unknown preset %q (have: %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	cfg.Presets = DefaultPresets()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# deskdroid configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables.
# Every key can also be set as DESKDROID_<KEY>, e.g. DESKDROID_DISPLAY_WIDTH=1280.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
