// Package output applies transcript commit side effects (clipboard and paste).
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/voxkey/voxkey/internal/config"
	"github.com/voxkey/voxkey/internal/transcript"
)

// Committer applies transcript output side effects (clipboard + optional paste).
type Committer struct {
	config config.Config
	logger *slog.Logger
}

// NewCommitter constructs a transcript committer from runtime config.
func NewCommitter(cfg config.Config, logger *slog.Logger) *Committer {
	return &Committer{config: cfg, logger: logger}
}

// Commit normalizes transcript text, writes it to the clipboard, and
// optionally dispatches a paste keystroke into the foreground application.
func (c *Committer) Commit(ctx context.Context, text string) error {
	text = transcript.Normalize(text, transcript.Options{
		CapitalizeSentences: c.config.Transcript.CapitalizeSentences,
		TrailingSpace:       c.config.Transcript.TrailingSpace,
	})
	if text == "" {
		return nil
	}

	clipboardCtx, clipboardCancel := context.WithTimeout(ctx, 2*time.Second)
	defer clipboardCancel()
	if err := runCommandWithInput(clipboardCtx, c.config.Clipboard.Argv, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}

	if !c.config.Paste.Enable {
		return nil
	}

	// Give the foreground application a beat to regain focus before the
	// keystroke lands.
	if c.config.Paste.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.config.Paste.Delay):
		}
	}

	pasteCtx, pasteCancel := context.WithTimeout(ctx, 2*time.Second)
	defer pasteCancel()
	if err := runCommandWithInput(pasteCtx, c.config.PasteKey.Argv, ""); err != nil {
		c.logPasteFailure(err)
	}
	return nil
}

// Snapshot reads the current clipboard contents.
func (c *Committer) Snapshot(ctx context.Context) (string, error) {
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := runCommandCapture(readCtx, c.config.ClipboardRead.Argv)
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return out, nil
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}

// runCommandCapture executes argv and returns its stdout.
func runCommandCapture(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("run %s: %w", argv[0], err)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

// logPasteFailure records paste errors while preserving clipboard success semantics.
func (c *Committer) logPasteFailure(err error) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Error("paste dispatch failed; clipboard remains set", "error", err.Error())
}
