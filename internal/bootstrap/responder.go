// Package bootstrap serves the single capture-page resource that points
// the browser client at the control channel.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrBind marks a fatal startup failure to claim the http port.
var ErrBind = errors.New("bootstrap responder bind failed")

// Responder answers GET requests for exactly one resource and rejects
// every other path. It carries no session logic.
type Responder struct {
	pagePath string
	pageName string
	logger   *slog.Logger

	httpServer *http.Server
	watcher    *fsnotify.Watcher
	addr       string

	mu      sync.RWMutex
	content []byte
}

// New constructs a responder for the page at pagePath, recognized on the
// wire as pageName.
func New(bindAddress string, port int, pagePath, pageName string, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Responder{
		pagePath: pagePath,
		pageName: pageName,
		logger:   logger,
	}
	r.httpServer = &http.Server{
		Addr:    net.JoinHostPort(bindAddress, strconv.Itoa(port)),
		Handler: http.HandlerFunc(r.serve),
	}
	return r
}

// Start reads the page, claims the port, and begins serving. The page
// file is watched so edits are picked up without a restart.
func (r *Responder) Start(ctx context.Context) error {
	if err := r.reload(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", r.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrBind, r.httpServer.Addr, err)
	}
	r.addr = listener.Addr().String()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("watch capture page: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.pagePath)); err != nil {
		_ = watcher.Close()
		_ = listener.Close()
		return fmt.Errorf("watch capture page dir: %w", err)
	}
	r.watcher = watcher
	go r.watchLoop(ctx)

	r.logger.Info("bootstrap responder listening", "addr", r.addr, "page", r.pageName)

	go func() {
		if serveErr := r.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			r.logger.Error("bootstrap responder serve failed", "error", serveErr.Error())
		}
	}()

	return nil
}

// Shutdown closes the watcher and the listener.
func (r *Responder) Shutdown(ctx context.Context) error {
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	return r.httpServer.Shutdown(ctx)
}

// Addr reports the bound listen address once Start has succeeded.
func (r *Responder) Addr() string {
	return r.addr
}

// serve answers the root path and the designated resource name; every
// other request is not-found. Exact name match only, no traversal.
func (r *Responder) serve(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requested := strings.Trim(req.URL.Path, "/")
	if requested != "" && requested != r.pageName {
		r.logger.Warn("blocked request for unknown resource", "path", req.URL.Path, "remote", req.RemoteAddr)
		http.NotFound(w, req)
		return
	}

	r.mu.RLock()
	content := r.content
	r.mu.RUnlock()

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(content)))
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	_, _ = w.Write(content)
}

// reload refreshes the cached page bytes from disk.
func (r *Responder) reload() error {
	content, err := os.ReadFile(r.pagePath)
	if err != nil {
		return fmt.Errorf("read capture page %q: %w", r.pagePath, err)
	}

	r.mu.Lock()
	r.content = content
	r.mu.Unlock()
	return nil
}

// watchLoop reloads the cached page when its file changes on disk.
func (r *Responder) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(r.pagePath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Warn("capture page reload failed", "error", err.Error())
				continue
			}
			r.logger.Info("capture page reloaded", "path", r.pagePath)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("capture page watcher error", "error", err.Error())
		}
	}
}
