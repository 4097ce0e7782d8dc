package computer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes a display command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct {
	env []string
}

// NewExecRunner targets X display :number when number is positive, and the
// inherited DISPLAY otherwise.
func NewExecRunner(number int) *ExecRunner {
	env := os.Environ()
	if number > 0 {
		env = append(env, fmt.Sprintf("DISPLAY=:%d", number))
	}
	return &ExecRunner{env: env}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("run %q: %w\nstderr: %s", name+" "+strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}
