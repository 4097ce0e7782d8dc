package edit

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jadenj13/deskdroid/internals/tools"
)

const (
	Name = "str_replace_editor"

	snippetLines = 4
	maxViewBytes = 16000
)

var schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {
			"type": "string",
			"enum": ["view", "create", "str_replace", "insert", "undo_edit"],
			"description": "The command to run."
		},
		"path": {
			"type": "string",
			"description": "Absolute path to a file or directory."
		},
		"file_text": {
			"type": "string",
			"description": "Content of the file to create. Required for create."
		},
		"old_str": {
			"type": "string",
			"description": "Exact text to replace. Must occur exactly once. Required for str_replace."
		},
		"new_str": {
			"type": "string",
			"description": "Replacement text for str_replace, or the text to insert for insert."
		},
		"insert_line": {
			"type": "integer",
			"description": "Line after which new_str is inserted. Required for insert."
		},
		"view_range": {
			"type": "array",
			"items": {"type": "integer"},
			"description": "Optional [start, end] line range for view. Use -1 as end to read to the end of the file."
		}
	},
	"required": ["command", "path"]
}`)

// Tool views and edits files on the local filesystem. Edits are kept in a
// per-file history so they can be undone.
type Tool struct {
	mu      sync.Mutex
	history map[string][]string
}

func New() *Tool {
	return &Tool{history: make(map[string][]string)}
}

func (t *Tool) Name() string { return Name }

func (t *Tool) Description() string {
	return "View, create and edit files. view shows a file with line numbers or lists a directory two levels deep. " +
		"str_replace replaces a unique occurrence of old_str. insert adds new_str after insert_line. undo_edit reverts the last edit to a file."
}

func (t *Tool) Schema() json.RawMessage { return schema }

type input struct {
	Command    string  `json:"command"`
	Path       string  `json:"path"`
	FileText   *string `json:"file_text"`
	OldStr     *string `json:"old_str"`
	NewStr     *string `json:"new_str"`
	InsertLine *int    `json:"insert_line"`
	ViewRange  []int   `json:"view_range"`
}

func (t *Tool) Execute(_ context.Context, raw json.RawMessage) tools.Result {
	var in input
	if err := json.Unmarshal(raw, &in); err != nil {
		return tools.Errorf("invalid input: %s", err)
	}
	if !filepath.IsAbs(in.Path) {
		return tools.Errorf("the path %s is not an absolute path, it should start with `/`.", in.Path)
	}

	switch in.Command {
	case "view":
		return t.view(in.Path, in.ViewRange)
	case "create":
		if in.FileText == nil {
			return tools.Errorf("parameter `file_text` is required for command: create")
		}
		return t.create(in.Path, *in.FileText)
	case "str_replace":
		if in.OldStr == nil {
			return tools.Errorf("parameter `old_str` is required for command: str_replace")
		}
		newStr := ""
		if in.NewStr != nil {
			newStr = *in.NewStr
		}
		return t.strReplace(in.Path, *in.OldStr, newStr)
	case "insert":
		if in.InsertLine == nil {
			return tools.Errorf("parameter `insert_line` is required for command: insert")
		}
		if in.NewStr == nil {
			return tools.Errorf("parameter `new_str` is required for command: insert")
		}
		return t.insert(in.Path, *in.InsertLine, *in.NewStr)
	case "undo_edit":
		return t.undo(in.Path)
	default:
		return tools.Errorf("unrecognized command %q", in.Command)
	}
}

func (t *Tool) view(path string, viewRange []int) tools.Result {
	info, err := os.Stat(path)
	if err != nil {
		return tools.Errorf("the path %s does not exist.", path)
	}
	if info.IsDir() {
		if viewRange != nil {
			return tools.Errorf("the `view_range` parameter is not allowed when `path` points to a directory.")
		}
		out, err := listDir(path, 2)
		if err != nil {
			return tools.Errorf("list %s: %s", path, err)
		}
		return tools.Result{Output: fmt.Sprintf("Here are the files and directories up to 2 levels deep in %s, excluding hidden items:\n%s", path, out)}
	}

	content, err := readFile(path)
	if err != nil {
		return tools.Errorf("%s", err)
	}
	lines := strings.Split(content, "\n")
	start := 1
	if viewRange != nil {
		if len(viewRange) != 2 {
			return tools.Errorf("invalid `view_range`. It should be a list of two integers.")
		}
		start = viewRange[0]
		end := viewRange[1]
		if start < 1 || start > len(lines) {
			return tools.Errorf("invalid `view_range`: %v. Its first element `%d` should be within the range of lines of the file: [1, %d]", viewRange, start, len(lines))
		}
		switch {
		case end == -1:
			end = len(lines)
		case end < start:
			return tools.Errorf("invalid `view_range`: %v. Its second element `%d` should be larger or equal than its first `%d`", viewRange, end, start)
		case end > len(lines):
			return tools.Errorf("invalid `view_range`: %v. Its second element `%d` should be smaller than the number of lines in the file: `%d`", viewRange, end, len(lines))
		}
		lines = lines[start-1 : end]
	}
	return tools.Result{Output: numbered(strings.Join(lines, "\n"), path, start)}
}

func (t *Tool) create(path, text string) tools.Result {
	if _, err := os.Stat(path); err == nil {
		return tools.Errorf("file already exists at: %s. Cannot overwrite files using command `create`.", path)
	}
	if err := writeFile(path, text); err != nil {
		return tools.Errorf("%s", err)
	}
	t.push(path, "")
	return tools.Result{Output: fmt.Sprintf("File created successfully at: %s", path)}
}

func (t *Tool) strReplace(path, oldStr, newStr string) tools.Result {
	content, err := readFile(path)
	if err != nil {
		return tools.Errorf("%s", err)
	}
	switch n := strings.Count(content, oldStr); {
	case oldStr == "" || n == 0:
		return tools.Errorf("no replacement was performed, old_str `%s` did not appear verbatim in %s.", oldStr, path)
	case n > 1:
		var lines []string
		for i, l := range strings.Split(content, "\n") {
			if strings.Contains(l, oldStr) {
				lines = append(lines, fmt.Sprint(i+1))
			}
		}
		return tools.Errorf("no replacement was performed. Multiple occurrences of old_str `%s` in lines %s. Please ensure it is unique", oldStr, strings.Join(lines, ", "))
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := writeFile(path, updated); err != nil {
		return tools.Errorf("%s", err)
	}
	t.push(path, content)

	line := strings.Count(content[:strings.Index(content, oldStr)], "\n")
	snippet, from := window(updated, line, strings.Count(newStr, "\n"))
	return tools.Result{Output: fmt.Sprintf("The file %s has been edited. %s"+
		"Review the changes and make sure they are as expected. Edit the file again if necessary.",
		path, numbered(snippet, "a snippet of "+path, from))}
}

func (t *Tool) insert(path string, at int, text string) tools.Result {
	content, err := readFile(path)
	if err != nil {
		return tools.Errorf("%s", err)
	}
	lines := strings.Split(content, "\n")
	if at < 0 || at > len(lines) {
		return tools.Errorf("invalid `insert_line` parameter: %d. It should be within the range of lines of the file: [0, %d]", at, len(lines))
	}

	newLines := strings.Split(text, "\n")
	merged := make([]string, 0, len(lines)+len(newLines))
	merged = append(merged, lines[:at]...)
	merged = append(merged, newLines...)
	merged = append(merged, lines[at:]...)
	updated := strings.Join(merged, "\n")

	if err := writeFile(path, updated); err != nil {
		return tools.Errorf("%s", err)
	}
	t.push(path, content)

	snippet, from := window(updated, at, len(newLines)-1)
	return tools.Result{Output: fmt.Sprintf("The file %s has been edited. %s"+
		"Review the changes and make sure they are as expected (correct indentation, no duplicate lines, etc). Edit the file again if necessary.",
		path, numbered(snippet, "a snippet of the edited file", from))}
}

func (t *Tool) undo(path string) tools.Result {
	t.mu.Lock()
	hist := t.history[path]
	if len(hist) == 0 {
		t.mu.Unlock()
		return tools.Errorf("no edit history found for %s.", path)
	}
	prev := hist[len(hist)-1]
	t.history[path] = hist[:len(hist)-1]
	t.mu.Unlock()

	if err := writeFile(path, prev); err != nil {
		return tools.Errorf("%s", err)
	}
	return tools.Result{Output: fmt.Sprintf("Last edit to %s undone successfully. %s", path, numbered(prev, path, 1))}
}

func (t *Tool) push(path, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history[path] = append(t.history[path], content)
}

// window returns the lines around an edit starting at line (0-based) and
// spanning extra further lines, plus the 1-based number of its first line.
func window(content string, line, extra int) (string, int) {
	lines := strings.Split(content, "\n")
	start := max(0, line-snippetLines)
	end := min(len(lines), line+extra+snippetLines+1)
	return strings.Join(lines[start:end], "\n"), start + 1
}

func numbered(content, desc string, first int) string {
	if len(content) > maxViewBytes {
		content = content[:maxViewBytes] + "\n<response clipped>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here's the result of running `cat -n` on %s:\n", desc)
	for i, l := range strings.Split(content, "\n") {
		fmt.Fprintf(&b, "%6d\t%s\n", i+first, l)
	}
	return b.String()
}

func listDir(root string, depth int) (string, error) {
	var b strings.Builder
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		if rel != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		level := 0
		if rel != "." {
			level = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if level > depth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		b.WriteString(p)
		b.WriteByte('\n')
		return nil
	})
	return b.String(), err
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file %s: %w", path, err)
	}
	return string(b), nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	return nil
}
