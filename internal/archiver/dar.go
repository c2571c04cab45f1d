package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/BadgerOps/darbackup/internal/artifact"
)

// maxOutput bounds the engine output kept in results and errors.
const maxOutput = 4096

// Dar runs the dar command line tool.
type Dar struct {
	binary string
	logger *slog.Logger
}

// NewDar returns a dar engine. An empty binary means "dar" looked up on PATH.
func NewDar(binary string, logger *slog.Logger) *Dar {
	if binary == "" {
		binary = "dar"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dar{binary: binary, logger: logger}
}

// Name implements Engine.
func (d *Dar) Name() string { return EngineDar }

// Args builds the dar command line for req.
func (d *Dar) Args(req Request) []string {
	args := []string{"-c", req.Template(), "-N", "-Q"}
	args = append(args, req.Definition.Args()...)
	if req.ExcludeCacheTagged && !req.Definition.CacheTagging {
		args = append(args, "--cache-directory-tagging")
	}
	if req.Antecedent != nil {
		args = append(args, "-A", req.Antecedent.Template)
	}
	return args
}

// Run implements Engine.
func (d *Dar) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if ext := req.ext(); ext != artifact.DefaultExtension {
		return nil, fmt.Errorf("dar always writes .%s slices, extension %q is not supported", artifact.DefaultExtension, ext)
	}

	path, err := exec.LookPath(d.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEngineUnavailable, d.binary, err)
	}

	args := d.Args(req)
	d.logger.Info("running dar",
		"definition", req.Definition.Name,
		"type", req.Type,
		"template", req.Template(),
	)
	d.logger.Debug("dar command line", "path", path, "args", strings.Join(args, " "))

	start := time.Now()
	cmd := exec.CommandContext(ctx, path, args...)
	output, err := cmd.CombinedOutput()
	duration := time.Since(start)
	out := tail(string(output), maxOutput)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			d.logger.Warn("dar failed",
				"definition", req.Definition.Name,
				"code", exitErr.ExitCode(),
				"duration", duration,
			)
			return nil, &ExitError{Engine: EngineDar, Code: exitErr.ExitCode(), Output: out}
		}
		return nil, fmt.Errorf("running dar: %w", err)
	}

	d.logger.Info("dar completed", "definition", req.Definition.Name, "duration", duration)
	return &Result{Engine: EngineDar, Output: out, Duration: duration}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
