// Package indicator signals dictation state changes to the user through
// desktop notifications and short audio cues.
package indicator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxkey/voxkey/internal/config"
)

// Indicator is the controller-facing state feedback contract.
type Indicator interface {
	ListeningStarted(context.Context)
	ListeningStopped(context.Context)
	Committed(context.Context)
	Error(context.Context, string)
}

// Noop satisfies Indicator without producing any output.
type Noop struct{}

func (Noop) ListeningStarted(context.Context) {}
func (Noop) ListeningStopped(context.Context) {}
func (Noop) Committed(context.Context)        {}
func (Noop) Error(context.Context, string)    {}

// Desktop signals state over freedesktop notifications and plays
// synthesized cues through the sound server.
type Desktop struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
}

// NewDesktop creates a desktop indicator from config.
func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Desktop{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// ListeningStarted shows the persistent listening notification and emits
// the start cue.
func (d *Desktop) ListeningStarted(ctx context.Context) {
	d.playCue(cueStart)
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, d.messages.listening, 300000)
	})
}

// ListeningStopped dismisses the listening notification and emits the
// stop cue.
func (d *Desktop) ListeningStopped(ctx context.Context) {
	d.playCue(cueStop)
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, d.dismiss)
}

// Committed signals a delivered transcript.
func (d *Desktop) Committed(ctx context.Context) {
	d.playCue(cueComplete)
	if !d.cfg.Enable {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, d.messages.committed, 1500)
	})
}

// Error shows a transient error notification.
func (d *Desktop) Error(ctx context.Context, text string) {
	d.playCue(cueError)
	if !d.cfg.Enable {
		return
	}
	if text == "" {
		text = d.messages.errorText
	}
	timeout := d.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notify(ctx, text, timeout)
	})
}

// notify sends a replaceable desktop notification and stores its ID.
func (d *Desktop) notify(ctx context.Context, text string, timeoutMS int) error {
	d.mu.Lock()
	replaceID := d.notificationID
	d.mu.Unlock()

	appName := strings.TrimSpace(d.cfg.DesktopAppName)
	if appName == "" {
		appName = "voxkey"
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
	return nil
}

// dismiss closes the current desktop notification ID when present.
func (d *Desktop) dismiss(ctx context.Context) error {
	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (d *Desktop) playCue(kind cueKind) {
	if !d.cfg.SoundEnable {
		return
	}
	go func() {
		d.soundMu.Lock()
		defer d.soundMu.Unlock()
		if err := emitCue(kind); err != nil {
			d.logger.Debug("indicator audio cue failed", "error", err.Error())
		}
	}()
}
