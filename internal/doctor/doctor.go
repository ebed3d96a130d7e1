// Package doctor runs runtime readiness diagnostics for config, tools,
// the capture page, and the local ports.
package doctor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/voxkey/voxkey/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment and config checks for a loaded config.
func Run(cfg config.Config) Report {
	checks := []Check{}

	checks = append(checks, checkCommand(cfg.Clipboard.Argv, "clipboard_copy_cmd"))
	checks = append(checks, checkCommand(cfg.ClipboardRead.Argv, "clipboard_paste_cmd"))
	if cfg.Paste.Enable {
		checks = append(checks, checkCommand(cfg.PasteKey.Argv, "paste_key_cmd"))
	}
	checks = append(checks, checkCommand(cfg.Browser.Argv, "browser_cmd"))

	checks = append(checks, checkPage(cfg.Page.Path))
	checks = append(checks, checkPortFree(cfg.BindAddress, cfg.WSPort, "ws_port"))
	checks = append(checks, checkPortFree(cfg.BindAddress, cfg.HTTPPort, "http_port"))

	return Report{Checks: checks}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkPage validates that the capture page is a readable file.
func checkPage(path string) Check {
	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: "capture_page", Pass: false, Message: fmt.Sprintf("cannot stat %q: %v", path, err)}
	}
	if info.IsDir() {
		return Check{Name: "capture_page", Pass: false, Message: fmt.Sprintf("%q is a directory", path)}
	}
	f, err := os.Open(path)
	if err != nil {
		return Check{Name: "capture_page", Pass: false, Message: fmt.Sprintf("cannot open %q: %v", path, err)}
	}
	_ = f.Close()
	return Check{Name: "capture_page", Pass: true, Message: fmt.Sprintf("readable, %d bytes", info.Size())}
}

// checkPortFree probes that a TCP port can still be claimed.
func checkPortFree(bindAddress string, port int, name string) Check {
	addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("cannot bind %s: %v", addr, err)}
	}
	_ = listener.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is free", addr)}
}
