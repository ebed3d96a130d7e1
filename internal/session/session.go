// Package session coordinates dictation state, command delivery, and
// transcript commit flow.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/voxkey/voxkey/internal/indicator"
	"github.com/voxkey/voxkey/internal/ipc"
	"github.com/voxkey/voxkey/internal/protocol"
)

// Broadcaster is the controller-facing subset of the control channel.
type Broadcaster interface {
	Broadcast(commandType string) int
	ClientCount() int
}

// Committer applies transcript output side effects.
type Committer interface {
	Commit(context.Context, string) error
	Snapshot(context.Context) (string, error)
}

// CommitFunc adapts a function to the commit half of Committer.
type CommitFunc func(context.Context, string) error

func (f CommitFunc) Commit(ctx context.Context, transcript string) error {
	return f(ctx, transcript)
}

func (CommitFunc) Snapshot(context.Context) (string, error) { return "", nil }

// Relauncher reopens the capture page when command delivery fails.
type Relauncher interface {
	OpenURL(ctx context.Context, url string) error
}

// noopRelauncher preserves controller flow when no browser is wired.
type noopRelauncher struct{}

func (noopRelauncher) OpenURL(context.Context, string) error { return nil }

// Controller owns the dictation listening state. The state only
// transitions through commands that reached at least one capture
// client; there is no ambient global state.
type Controller struct {
	logger     *slog.Logger
	channel    Broadcaster
	commit     Committer
	relaunch   Relauncher
	indicate   indicator.Indicator
	captureURL string

	mu         sync.Mutex
	listening  bool
	relaunched bool
}

// NewController constructs a dictation controller with safe default fallbacks.
func NewController(
	logger *slog.Logger,
	channel Broadcaster,
	committer Committer,
	relauncher Relauncher,
	indicate indicator.Indicator,
	captureURL string,
) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if committer == nil {
		committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	if relauncher == nil {
		relauncher = noopRelauncher{}
	}
	if indicate == nil {
		indicate = indicator.Noop{}
	}

	return &Controller{
		logger:     logger,
		channel:    channel,
		commit:     committer,
		relaunch:   relauncher,
		indicate:   indicate,
		captureURL: captureURL,
	}
}

// Listening reports the current dictation state.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Handle serves commands forwarded from the CLI over the unix socket.
// Hotkey activations arrive here as toggle requests.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		return ipc.Response{
			OK:      true,
			State:   c.stateName(),
			Clients: c.channel.ClientCount(),
			Message: "status",
		}
	case "toggle":
		if c.Listening() {
			return c.stop(ctx)
		}
		return c.start(ctx)
	case "start":
		return c.start(ctx)
	case "stop":
		return c.stop(ctx)
	default:
		return ipc.Response{OK: false, State: c.stateName(), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// start broadcasts START_LISTENING and enters the listening state when
// the command reached a client. Delivery failure triggers a one-shot
// capture-page relaunch before giving up with manual guidance.
func (c *Controller) start(ctx context.Context) ipc.Response {
	c.mu.Lock()
	if c.listening {
		c.mu.Unlock()
		return ipc.Response{OK: true, State: "listening", Message: "already listening"}
	}
	c.mu.Unlock()

	if snapshot, err := c.commit.Snapshot(ctx); err != nil {
		c.logger.Warn("clipboard snapshot failed", "error", err.Error())
	} else {
		c.logger.Info("saved clipboard", "length", len(snapshot))
	}

	sent := c.channel.Broadcast(protocol.TypeStartListening)
	if sent == 0 {
		return c.recoverDelivery(ctx)
	}

	c.mu.Lock()
	c.listening = true
	c.relaunched = false
	c.mu.Unlock()

	c.indicate.ListeningStarted(ctx)
	c.logger.Info("dictation started", "clients", sent)
	return ipc.Response{OK: true, State: "listening", Message: "listening started"}
}

// stop leaves the listening state and broadcasts STOP_LISTENING. The
// local state drops even when delivery fails; a dead client cannot pin
// the controller in listening mode.
func (c *Controller) stop(ctx context.Context) ipc.Response {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return ipc.Response{OK: true, State: "idle", Message: "not listening"}
	}
	c.listening = false
	c.mu.Unlock()

	c.indicate.ListeningStopped(ctx)

	sent := c.channel.Broadcast(protocol.TypeStopListening)
	if sent == 0 {
		c.logger.Warn("stop command reached no clients")
		return ipc.Response{OK: true, State: "idle", Message: "stopped; no capture client reached"}
	}

	c.logger.Info("dictation stopped", "clients", sent)
	return ipc.Response{OK: true, State: "idle", Message: "processing transcript"}
}

// recoverDelivery performs the bounded recovery action for a broadcast
// that reached zero clients: relaunch the capture page exactly once.
func (c *Controller) recoverDelivery(ctx context.Context) ipc.Response {
	c.mu.Lock()
	alreadyTried := c.relaunched
	c.relaunched = true
	c.mu.Unlock()

	if alreadyTried {
		guidance := fmt.Sprintf("no capture client connected; open %s manually", c.captureURL)
		c.logger.Error("start command undelivered after relaunch", "url", c.captureURL)
		c.indicate.Error(ctx, "No capture client connected")
		return ipc.Response{OK: false, State: "idle", Error: guidance}
	}

	c.logger.Warn("start command reached no clients; relaunching capture page")
	if err := c.relaunch.OpenURL(ctx, c.captureURL); err != nil {
		c.logger.Error("capture page relaunch failed", "error", err.Error())
		return ipc.Response{OK: false, State: "idle", Error: fmt.Sprintf("relaunch capture page: %v", err)}
	}
	return ipc.Response{OK: false, State: "idle", Error: "no capture client connected; relaunched capture page, retry shortly"}
}

// HandleTranscript commits a finished transcript and leaves the
// listening state. The channel has already trimmed and validated text.
func (c *Controller) HandleTranscript(ctx context.Context, text string) {
	if err := c.commit.Commit(ctx, text); err != nil {
		c.logger.Error("transcript commit failed", "error", err.Error(), "length", len(text))
		c.indicate.Error(ctx, "Transcript commit failed")
		return
	}

	c.mu.Lock()
	c.listening = false
	c.mu.Unlock()

	c.indicate.Committed(ctx)
	c.logger.Info("transcript committed", "length", len(text))
}

func (c *Controller) stateName() string {
	if c.Listening() {
		return "listening"
	}
	return "idle"
}
