package orchestrator

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// Installer makes sure the external browser runtime dependency is present
// before a drain.
type Installer interface {
	EnsureInstalled(ctx context.Context) error
}

// CommandInstaller runs a configured installer command. The dependency may
// already be present, so callers treat a failure as non-fatal.
type CommandInstaller struct {
	command []string
	logger  *zap.Logger
}

// NewCommandInstaller builds a CommandInstaller. An empty command means
// installation is skipped.
func NewCommandInstaller(command []string, logger *zap.Logger) *CommandInstaller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandInstaller{command: command, logger: logger}
}

// EnsureInstalled invokes the installer subprocess; success or failure is
// determined by exit code only.
func (i *CommandInstaller) EnsureInstalled(ctx context.Context) error {
	if len(i.command) == 0 {
		i.logger.Debug("no installer command configured, skipping")
		return nil
	}
	cmd := exec.CommandContext(ctx, i.command[0], i.command[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("installer %v: %w (output: %s)", i.command, err, output)
	}
	return nil
}
