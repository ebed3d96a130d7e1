package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/voxkey/voxkey/internal/bootstrap"
	"github.com/voxkey/voxkey/internal/browser"
	"github.com/voxkey/voxkey/internal/channel"
	"github.com/voxkey/voxkey/internal/cli"
	"github.com/voxkey/voxkey/internal/config"
	"github.com/voxkey/voxkey/internal/doctor"
	"github.com/voxkey/voxkey/internal/indicator"
	"github.com/voxkey/voxkey/internal/ipc"
	"github.com/voxkey/voxkey/internal/logging"
	"github.com/voxkey/voxkey/internal/output"
	"github.com/voxkey/voxkey/internal/session"
	"github.com/voxkey/voxkey/internal/token"
	"github.com/voxkey/voxkey/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("voxkey"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("voxkey"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	loaded, err := config.Load(parsed.EnvPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	for _, w := range loaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s: %s\n", w.Key, w.Message)
	}
	cfg := loaded.Config

	logger := r.Logger
	if logger == nil {
		logRuntime, err := logging.New(cfg.LogLevel)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
			return 1
		}
		defer func() { _ = logRuntime.Close() }()
		logger = logRuntime.Logger
	}

	logger.Info("command start", "command", parsed.Command)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfg)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandToggle, cli.CommandStart, cli.CommandStop:
		return r.forwardOrFail(ctx, string(parsed.Command))
	case cli.CommandRun:
		return r.commandRun(ctx, cfg, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, "status")
	if !handled {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintf(r.Stdout, "%s (%d capture clients)\n", resp.State, resp.Clients)
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no running voxkey controller; start one with `voxkey run`")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun owns the controller process: both servers, the capture page
// launch, and the unix socket that hotkey bindings deliver commands to.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a voxkey controller is already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	sessionToken, err := token.Generate()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("session token generated", "token", sessionToken.Truncated())

	captureURL := fmt.Sprintf(
		"http://%s:%d/%s?token=%s",
		cfg.BindAddress, cfg.HTTPPort, cfg.Page.Name, sessionToken.String(),
	)

	responder := bootstrap.New(cfg.BindAddress, cfg.HTTPPort, cfg.Page.Path, cfg.Page.Name, logger)
	if err := responder.Start(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("capture page responder start failed", "error", err.Error())
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = responder.Shutdown(shutdownCtx)
	}()

	committer := output.NewCommitter(cfg, logger)
	launcher := browser.NewLauncher(cfg.Browser, logger)
	feedback := indicator.NewDesktop(cfg.Indicator, logger)

	// The channel and the controller reference each other: events flow
	// channel to controller, commands controller to channel.
	var controller *session.Controller
	ch := channel.New(
		channel.Options{
			BindAddress:  cfg.BindAddress,
			Port:         cfg.WSPort,
			AuthTimeout:  cfg.Channel.AuthTimeout,
			PingInterval: cfg.Channel.PingInterval,
			ReconnectURL: captureURL,
		},
		sessionToken,
		channel.SinkFunc(func(sinkCtx context.Context, text string) {
			controller.HandleTranscript(sinkCtx, text)
		}),
		logger,
	)
	controller = session.NewController(logger, ch, committer, launcher, feedback, captureURL)

	if err := ch.Start(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("control channel start failed", "error", err.Error())
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ch.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(r.Stdout, "control channel ws://%s/ws\n", ch.Addr())
	fmt.Fprintf(r.Stdout, "capture page    http://%s/%s\n", responder.Addr(), cfg.Page.Name)

	if err := launcher.OpenURL(ctx, captureURL); err != nil {
		logger.Warn("capture page launch failed", "error", err.Error())
		fmt.Fprintf(r.Stderr, "warning: launch browser: %v\n", err)
	}

	if waitForClient(ctx, ch, cfg.Channel.ConnectTimeout) {
		fmt.Fprintln(r.Stdout, "capture client connected; bind a hotkey to `voxkey toggle`")
		logger.Info("capture client connected")
	} else {
		fmt.Fprintf(r.Stdout, "no capture client yet; open %s manually\n", captureURL)
		logger.Warn("capture client connect window expired")
	}

	if err := ipc.Serve(ctx, listener, controller); err != nil {
		fmt.Fprintf(r.Stderr, "error: command socket failed: %v\n", err)
		logger.Error("command socket failed", "error", err.Error())
		return 1
	}

	logger.Info("controller shut down")
	return 0
}

// waitForClient polls the connected-client count until the capture page
// checks in or the window expires.
func waitForClient(ctx context.Context, ch *channel.Server, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ch.ClientCount() > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
	return ch.ClientCount() > 0
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) || isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
