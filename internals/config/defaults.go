package config

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

func DefaultConfig() Config {
	return Config{
		Provider:       "anthropic",
		APIKey:         "${ANTHROPIC_API_KEY}",
		MaxTokens:      4096,
		ImageRetention: 10,
		Display: DisplayConfig{
			Width:           1024,
			Height:          768,
			ScreenshotDelay: 2 * time.Second,
		},
		Tools: ToolsConfig{
			Enabled:     []string{"computer", "bash", "str_replace_editor"},
			BashTimeout: 2 * time.Minute,
		},
		Transcript: TranscriptConfig{
			Format: "json",
		},
		GitHub: GitHubConfig{Token: "${GITHUB_TOKEN}"},
		GitLab: GitLabConfig{Token: "${GITLAB_TOKEN}", BaseURL: "https://gitlab.com"},
		Slack:  SlackConfig{BotToken: "${SLACK_BOT_TOKEN}", AppToken: "${SLACK_APP_TOKEN}"},
		Resume: ResumeConfig{Attempts: 1, MaxWait: 5 * time.Minute},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

func intPtr(n int) *int { return &n }

// DefaultPresets are the stock starting points shipped with the CLI.
func DefaultPresets() map[string]Preset {
	return map[string]Preset{
		"default": {},
		"look": {
			Prompt:         "Just take a screenshot and tell me what's in it.",
			ImageRetention: intPtr(10),
		},
		"careful": {
			SystemPrompt:   carefulPrompt,
			ImageRetention: intPtr(1),
		},
	}
}

const carefulPrompt = `<SYSTEM_CAPABILITY>
* You are in control of a machine using {{arch}} architecture and running {{os}}. Please don't delete anything unless asked three times.
* To launch a program, use nohup. For example to run firefox, use your bash tool with the command nohup firefox. Do not use '&' with the bash tool to run a command in the background.
* When viewing a page it can be helpful to zoom out so that you can see everything on the page. Either that, or make sure you scroll down to see everything before deciding something isn't available.
* When using your computer function calls, they take a while to run and send back to you. Where possible, chain multiple of these calls into one function calls request.
</SYSTEM_CAPABILITY>

<IMPORTANT>
* When using Firefox, click on the address bar where it says "Search or enter address", and enter the appropriate search term or URL there.
</IMPORTANT>`

const basePrompt = `<SYSTEM_CAPABILITY>
* You are utilising a {{os}} machine using {{arch}} architecture with internet access.
* To open a program, use the bash tool with nohup so it outlives the command, then take a screenshot to confirm it started.
* When using your bash tool with commands that are expected to output very large quantities of text, redirect into a tmp file and use str_replace_editor or grep -n to inspect it.
* When viewing a page it can be helpful to zoom out so that you can see everything on the page.
* Computer function calls take a while to run. Where possible, chain multiple calls into one request.
* The current date is {{date}}.
</SYSTEM_CAPABILITY>`

// BuildSystemPrompt builds the prompt for a run: the preset's prompt if it has
// one, else the configured prompt, else the built-in one, followed by the
// configured suffix.
func (c *Config) BuildSystemPrompt(p Preset, now time.Time) string {
	prompt := basePrompt
	switch {
	case p.SystemPrompt != "":
		prompt = p.SystemPrompt
	case c.SystemPrompt != "":
		prompt = c.SystemPrompt
	}
	prompt = expandPrompt(prompt, now)
	if c.SystemPromptSuffix != "" {
		prompt += " " + c.SystemPromptSuffix
	}
	return prompt
}

func expandPrompt(s string, now time.Time) string {
	return strings.NewReplacer(
		"{{arch}}", runtime.GOARCH,
		"{{os}}", osName(),
		"{{date}}", now.Format("Monday, January 2, 2006"),
	).Replace(s)
}

// osName reads NAME from /etc/os-release, falling back to GOOS.
func osName() string {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return runtime.GOOS
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "NAME="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return runtime.GOOS
}

// ImageRetentionFor returns the preset's budget when set, else the configured one.
func (c *Config) ImageRetentionFor(p Preset) int {
	if p.ImageRetention != nil {
		return *p.ImageRetention
	}
	return c.ImageRetention
}

func (c *Config) String() string {
	return fmt.Sprintf("provider=%s model=%s images=%d display=%dx%d", c.Provider, c.Model, c.ImageRetention, c.Display.Width, c.Display.Height)
}
