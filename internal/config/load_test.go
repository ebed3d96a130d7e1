package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutEnvironment(t *testing.T) {
	clearVoxkeyEnv(t)

	loaded, err := Load("")
	require.NoError(t, err)
	require.Empty(t, loaded.Warnings)

	cfg := loaded.Config
	require.Equal(t, "127.0.0.1", cfg.BindAddress)
	require.Equal(t, 8081, cfg.WSPort)
	require.Equal(t, 8080, cfg.HTTPPort)
	require.Equal(t, "speech-persistent.html", cfg.Page.Name)
	require.Equal(t, 10*time.Second, cfg.Channel.AuthTimeout)
	require.Equal(t, 15*time.Second, cfg.Channel.PingInterval)
	require.True(t, cfg.Paste.Enable)
	require.True(t, cfg.Transcript.CapitalizeSentences)
	require.False(t, cfg.Transcript.TrailingSpace)
	require.True(t, cfg.Indicator.Enable)
	require.Equal(t, "voxkey", cfg.Indicator.DesktopAppName)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearVoxkeyEnv(t)
	t.Setenv("VOXKEY_BIND", "0.0.0.0")
	t.Setenv("VOXKEY_WS_PORT", "9001")
	t.Setenv("VOXKEY_HTTP_PORT", "9000")
	t.Setenv("VOXKEY_PAGE", "/srv/voxkey/capture.html")
	t.Setenv("VOXKEY_AUTH_TIMEOUT", "3")
	t.Setenv("VOXKEY_PING_INTERVAL", "5")
	t.Setenv("VOXKEY_PASTE", "false")
	t.Setenv("VOXKEY_CAPITALIZE", "false")
	t.Setenv("VOXKEY_TRAILING_SPACE", "true")
	t.Setenv("VOXKEY_INDICATOR", "false")
	t.Setenv("VOXKEY_INDICATOR_APP_NAME", "voxkey-dev")
	t.Setenv("VOXKEY_CLIPBOARD_COPY_CMD", "wl-copy --trim-newline")
	t.Setenv("VOXKEY_LOG_LEVEL", "debug")

	loaded, err := Load("")
	require.NoError(t, err)

	cfg := loaded.Config
	require.Equal(t, "0.0.0.0", cfg.BindAddress)
	require.Equal(t, 9001, cfg.WSPort)
	require.Equal(t, 9000, cfg.HTTPPort)
	require.Equal(t, "/srv/voxkey/capture.html", cfg.Page.Path)
	require.Equal(t, "capture.html", cfg.Page.Name)
	require.Equal(t, 3*time.Second, cfg.Channel.AuthTimeout)
	require.Equal(t, 5*time.Second, cfg.Channel.PingInterval)
	require.False(t, cfg.Paste.Enable)
	require.False(t, cfg.Transcript.CapitalizeSentences)
	require.True(t, cfg.Transcript.TrailingSpace)
	require.False(t, cfg.Indicator.Enable)
	require.Equal(t, "voxkey-dev", cfg.Indicator.DesktopAppName)
	require.Equal(t, []string{"wl-copy", "--trim-newline"}, cfg.Clipboard.Argv)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDotenvFile(t *testing.T) {
	clearVoxkeyEnv(t)

	envPath := filepath.Join(t.TempDir(), "voxkey.env")
	require.NoError(t, os.WriteFile(envPath, []byte("VOXKEY_WS_PORT=7001\nVOXKEY_HTTP_PORT=7000\n"), 0o600))

	loaded, err := Load(envPath)
	require.NoError(t, err)
	require.Equal(t, 7001, loaded.Config.WSPort)
	require.Equal(t, 7000, loaded.Config.HTTPPort)
}

func TestLoadMissingDotenvFileFails(t *testing.T) {
	clearVoxkeyEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "load env file")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "bad ws port", key: "VOXKEY_WS_PORT", value: "not-a-port", wantErr: "invalid VOXKEY_WS_PORT"},
		{name: "port out of range", key: "VOXKEY_HTTP_PORT", value: "70000", wantErr: "out of range"},
		{name: "bad auth timeout", key: "VOXKEY_AUTH_TIMEOUT", value: "-2", wantErr: "positive"},
		{name: "bad paste flag", key: "VOXKEY_PASTE", value: "maybe", wantErr: "invalid VOXKEY_PASTE"},
		{name: "bad indicator flag", key: "VOXKEY_INDICATOR", value: "loud", wantErr: "invalid VOXKEY_INDICATOR"},
		{name: "bad command quoting", key: "VOXKEY_BROWSER_CMD", value: `open "oops`, wantErr: "unterminated quote"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearVoxkeyEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load("")
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadRejectsEqualPorts(t *testing.T) {
	clearVoxkeyEnv(t)
	t.Setenv("VOXKEY_WS_PORT", "8088")
	t.Setenv("VOXKEY_HTTP_PORT", "8088")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must differ")
}

func TestLoadWarnsOnUnknownLogLevel(t *testing.T) {
	clearVoxkeyEnv(t)
	t.Setenv("VOXKEY_LOG_LEVEL", "loud")

	loaded, err := Load("")
	require.NoError(t, err)
	require.Len(t, loaded.Warnings, 1)
	require.Equal(t, "VOXKEY_LOG_LEVEL", loaded.Warnings[0].Key)
	require.Equal(t, "info", loaded.Config.LogLevel)
}

// clearVoxkeyEnv detaches the test from any ambient voxkey environment.
func clearVoxkeyEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"VOXKEY_BIND", "VOXKEY_WS_PORT", "VOXKEY_HTTP_PORT", "VOXKEY_PAGE",
		"VOXKEY_AUTH_TIMEOUT", "VOXKEY_PING_INTERVAL", "VOXKEY_CONNECT_TIMEOUT",
		"VOXKEY_PASTE", "VOXKEY_CLIPBOARD_COPY_CMD", "VOXKEY_CLIPBOARD_PASTE_CMD",
		"VOXKEY_PASTE_KEY_CMD", "VOXKEY_BROWSER_CMD", "VOXKEY_LOG_LEVEL",
		"VOXKEY_CAPITALIZE", "VOXKEY_TRAILING_SPACE",
		"VOXKEY_INDICATOR", "VOXKEY_INDICATOR_SOUND", "VOXKEY_INDICATOR_APP_NAME",
	}
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
