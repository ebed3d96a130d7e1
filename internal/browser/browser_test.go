package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxkey/voxkey/internal/config"
)

func TestOpenURLAppendsURLToCommand(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	script := writeArgsScript(t)

	launcher := NewLauncher(config.CommandConfig{Argv: []string{script, argsFile}}, nil)
	err := launcher.OpenURL(context.Background(), "http://127.0.0.1:8080/speech-persistent.html?token=abc")
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8080/speech-persistent.html?token=abc\n", string(data))
}

func TestOpenURLRejectsEmptyCommand(t *testing.T) {
	launcher := NewLauncher(config.CommandConfig{}, nil)
	err := launcher.OpenURL(context.Background(), "http://127.0.0.1:8080/")
	require.Error(t, err)
	require.Contains(t, err.Error(), "argv cannot be empty")
}

func TestOpenURLReportsCommandFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/usr/bin/env bash\nexit 1\n"), 0o755))

	launcher := NewLauncher(config.CommandConfig{Argv: []string{script}}, nil)
	err := launcher.OpenURL(context.Background(), "http://127.0.0.1:8080/")
	require.Error(t, err)
	require.Contains(t, err.Error(), "open browser")
}

func writeArgsScript(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "record-args.sh")
	script := `#!/usr/bin/env bash
set -euo pipefail
out="$1"
shift
printf '%s\n' "$@" > "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}
