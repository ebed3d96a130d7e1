// Package browser launches the capture page in the user's browser.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/voxkey/voxkey/internal/config"
)

// Launcher opens URLs with a configured argv command.
type Launcher struct {
	command config.CommandConfig
	logger  *slog.Logger
}

// NewLauncher constructs a launcher from runtime config.
func NewLauncher(command config.CommandConfig, logger *slog.Logger) *Launcher {
	return &Launcher{command: command, logger: logger}
}

// OpenURL runs the configured browser command with url appended.
func (l *Launcher) OpenURL(ctx context.Context, url string) error {
	if len(l.command.Argv) == 0 {
		return fmt.Errorf("browser command argv cannot be empty")
	}

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	argv := append(append([]string(nil), l.command.Argv...), url)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("open browser %s: %w", argv[0], err)
	}

	if l.logger != nil {
		l.logger.Info("launched capture page", "command", argv[0])
	}
	return nil
}
