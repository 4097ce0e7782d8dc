package computer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jadenj13/deskdroid/internals/llm"
	"github.com/jadenj13/deskdroid/internals/tools"
)

const (
	Name = "computer"

	DefaultScreenshotDelay = 2 * time.Second
	typingChunk            = 50
	typingDelayMs          = "12"
	maxWait                = 100 * time.Second
)

var schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["key", "hold_key", "type", "cursor_position", "mouse_move", "left_mouse_down", "left_mouse_up",
				"left_click", "left_click_drag", "right_click", "middle_click", "double_click", "triple_click",
				"scroll", "wait", "screenshot"]
		},
		"coordinate": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2},
		"start_coordinate": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2},
		"text": {"type": "string"},
		"scroll_direction": {"type": "string", "enum": ["up", "down", "left", "right"]},
		"scroll_amount": {"type": "integer", "minimum": 0},
		"duration": {"type": "number", "minimum": 0}
	},
	"required": ["action"]
}`)

type Options struct {
	Width           int
	Height          int
	DisplayNumber   int
	ScreenshotDelay time.Duration
}

// Tool drives the X display with xdotool and returns a screenshot after each
// action. Coordinates from the model are in the declared display size; they
// are scaled to the real screen when the two differ.
type Tool struct {
	runner Runner
	opts   Options
	sleep  func(context.Context, time.Duration) error

	mu     sync.Mutex
	scaleX float64
	scaleY float64
}

func New(runner Runner, opts Options) *Tool {
	if runner == nil {
		runner = NewExecRunner(opts.DisplayNumber)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1024, 768
	}
	if opts.ScreenshotDelay < 0 {
		opts.ScreenshotDelay = 0
	}
	return &Tool{runner: runner, opts: opts, sleep: sleepCtx, scaleX: 1, scaleY: 1}
}

func (t *Tool) Name() string { return Name }

func (t *Tool) Description() string {
	return fmt.Sprintf("Control the mouse and keyboard of a %dx%d display and take screenshots.", t.opts.Width, t.opts.Height)
}

func (t *Tool) Schema() json.RawMessage { return schema }

func (t *Tool) Display() *llm.DisplayConfig {
	return &llm.DisplayConfig{WidthPx: t.opts.Width, HeightPx: t.opts.Height, Number: t.opts.DisplayNumber}
}

type input struct {
	Action          string  `json:"action"`
	Coordinate      []int   `json:"coordinate"`
	StartCoordinate []int   `json:"start_coordinate"`
	Text            string  `json:"text"`
	ScrollDirection string  `json:"scroll_direction"`
	ScrollAmount    int     `json:"scroll_amount"`
	Duration        float64 `json:"duration"`
}

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage) tools.Result {
	var in input
	if err := json.Unmarshal(raw, &in); err != nil {
		return tools.Errorf("invalid input: %s", err)
	}

	switch in.Action {
	case "screenshot":
		return t.screenshot(ctx)
	case "cursor_position":
		return t.cursorPosition(ctx)
	case "wait":
		d := time.Duration(in.Duration * float64(time.Second))
		if d < 0 || d > maxWait {
			return tools.Errorf("duration must be between 0 and %s", maxWait)
		}
		if err := t.sleep(ctx, d); err != nil {
			return tools.Errorf("wait: %s", err)
		}
		return t.screenshot(ctx)
	}

	args, err := t.xdotoolArgs(in)
	if err != nil {
		return tools.Errorf("%s", err)
	}

	var out strings.Builder
	for _, a := range args {
		b, err := t.runner.Run(ctx, "xdotool", a...)
		if err != nil {
			return tools.Result{Output: out.String(), Error: fmt.Sprintf("xdotool %s: %s", strings.Join(a, " "), err)}
		}
		out.Write(b)
	}

	if in.Action == "hold_key" {
		// keyup is issued after the hold so the key is released even on cancel
		herr := t.sleep(ctx, time.Duration(in.Duration*float64(time.Second)))
		if _, err := t.runner.Run(context.WithoutCancel(ctx), "xdotool", "keyup", in.Text); err != nil {
			return tools.Errorf("xdotool keyup: %s", err)
		}
		if herr != nil {
			return tools.Errorf("hold_key: %s", herr)
		}
	}

	if err := t.sleep(ctx, t.opts.ScreenshotDelay); err != nil {
		return tools.Errorf("%s", err)
	}
	res := t.screenshot(ctx)
	res.Output = strings.TrimSpace(out.String())
	return res
}

// xdotoolArgs maps an action to one or more xdotool invocations.
func (t *Tool) xdotoolArgs(in input) ([][]string, error) {
	switch in.Action {
	case "key", "type", "hold_key":
		if in.Text == "" {
			return nil, fmt.Errorf("text is required for %s", in.Action)
		}
		if in.Coordinate != nil {
			return nil, fmt.Errorf("coordinate is not accepted for %s", in.Action)
		}
	}

	switch in.Action {
	case "key":
		return [][]string{{"key", "--", in.Text}}, nil
	case "hold_key":
		return [][]string{{"keydown", in.Text}}, nil
	case "type":
		var out [][]string
		for _, chunk := range chunks(in.Text, typingChunk) {
			out = append(out, []string{"type", "--delay", typingDelayMs, "--", chunk})
		}
		return out, nil
	case "mouse_move":
		x, y, err := t.point(in.Coordinate)
		if err != nil {
			return nil, err
		}
		return [][]string{{"mousemove", "--sync", x, y}}, nil
	case "left_mouse_down":
		return [][]string{{"mousedown", "1"}}, nil
	case "left_mouse_up":
		return [][]string{{"mouseup", "1"}}, nil
	case "left_click_drag":
		x, y, err := t.point(in.Coordinate)
		if err != nil {
			return nil, err
		}
		var out [][]string
		if in.StartCoordinate != nil {
			sx, sy, err := t.point(in.StartCoordinate)
			if err != nil {
				return nil, err
			}
			out = append(out, []string{"mousemove", "--sync", sx, sy})
		}
		return append(out, []string{"mousedown", "1", "mousemove", "--sync", x, y, "mouseup", "1"}), nil
	case "left_click", "right_click", "middle_click", "double_click", "triple_click":
		button, repeat := "1", "1"
		switch in.Action {
		case "right_click":
			button = "3"
		case "middle_click":
			button = "2"
		case "double_click":
			repeat = "2"
		case "triple_click":
			repeat = "3"
		}
		var out [][]string
		if in.Coordinate != nil {
			x, y, err := t.point(in.Coordinate)
			if err != nil {
				return nil, err
			}
			out = append(out, []string{"mousemove", "--sync", x, y})
		}
		return append(out, []string{"click", "--repeat", repeat, "--delay", "100", button}), nil
	case "scroll":
		button := map[string]string{"up": "4", "down": "5", "left": "6", "right": "7"}[in.ScrollDirection]
		if button == "" {
			return nil, fmt.Errorf("scroll_direction must be one of up, down, left, right")
		}
		amount := in.ScrollAmount
		if amount <= 0 {
			amount = 3
		}
		var out [][]string
		if in.Coordinate != nil {
			x, y, err := t.point(in.Coordinate)
			if err != nil {
				return nil, err
			}
			out = append(out, []string{"mousemove", "--sync", x, y})
		}
		return append(out, []string{"click", "--repeat", strconv.Itoa(amount), button}), nil
	default:
		return nil, fmt.Errorf("invalid action: %q", in.Action)
	}
}

// point validates a display-space coordinate and returns it in screen space.
func (t *Tool) point(c []int) (string, string, error) {
	if c == nil {
		return "", "", fmt.Errorf("coordinate is required")
	}
	if len(c) != 2 {
		return "", "", fmt.Errorf("%v must be a list of two integers", c)
	}
	x, y := c[0], c[1]
	if x < 0 || y < 0 || x > t.opts.Width || y > t.opts.Height {
		return "", "", fmt.Errorf("coordinates %d, %d are out of bounds", x, y)
	}

	t.mu.Lock()
	sx, sy := t.scaleX, t.scaleY
	t.mu.Unlock()
	return strconv.Itoa(int(float64(x)*sx + 0.5)), strconv.Itoa(int(float64(y)*sy + 0.5)), nil
}

func (t *Tool) cursorPosition(ctx context.Context) tools.Result {
	out, err := t.runner.Run(ctx, "xdotool", "getmouselocation", "--shell")
	if err != nil {
		return tools.Errorf("xdotool getmouselocation: %s", err)
	}
	pos := make(map[string]int)
	for _, line := range strings.Split(string(out), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			pos[strings.TrimSpace(k)] = n
		}
	}
	x, okX := pos["X"]
	y, okY := pos["Y"]
	if !okX || !okY {
		return tools.Errorf("could not parse cursor position from %q", strings.TrimSpace(string(out)))
	}

	t.mu.Lock()
	sx, sy := t.scaleX, t.scaleY
	t.mu.Unlock()
	return tools.Result{Output: fmt.Sprintf("X=%d,Y=%d", int(float64(x)/sx+0.5), int(float64(y)/sy+0.5))}
}

func chunks(s string, n int) []string {
	r := []rune(s)
	var out []string
	for len(r) > n {
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return append(out, string(r))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
