package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Loaded captures the resolved config values and non-fatal warnings.
type Loaded struct {
	Config   Config
	Warnings []Warning
}

// Load materializes the runtime configuration from environment
// variables, optionally seeded from a dotenv file. A missing dotenv
// file is not an error; a present but unreadable one is.
func Load(envPath string) (Loaded, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return Loaded{}, fmt.Errorf("load env file %q: %w", envPath, err)
		}
	} else {
		// Best-effort default: a .env beside the binary's working dir.
		_ = godotenv.Load()
	}

	cfg := Default()
	var warnings []Warning

	if v := os.Getenv("VOXKEY_BIND"); v != "" {
		cfg.BindAddress = strings.TrimSpace(v)
	}
	if err := loadPort("VOXKEY_WS_PORT", &cfg.WSPort); err != nil {
		return Loaded{}, err
	}
	if err := loadPort("VOXKEY_HTTP_PORT", &cfg.HTTPPort); err != nil {
		return Loaded{}, err
	}
	if v := os.Getenv("VOXKEY_PAGE"); v != "" {
		cfg.Page.Path = strings.TrimSpace(v)
		cfg.Page.Name = pageName(cfg.Page.Path)
	}
	if err := loadSeconds("VOXKEY_AUTH_TIMEOUT", &cfg.Channel.AuthTimeout); err != nil {
		return Loaded{}, err
	}
	if err := loadSeconds("VOXKEY_PING_INTERVAL", &cfg.Channel.PingInterval); err != nil {
		return Loaded{}, err
	}
	if err := loadSeconds("VOXKEY_CONNECT_TIMEOUT", &cfg.Channel.ConnectTimeout); err != nil {
		return Loaded{}, err
	}

	boolVars := []struct {
		key    string
		target *bool
	}{
		{"VOXKEY_PASTE", &cfg.Paste.Enable},
		{"VOXKEY_CAPITALIZE", &cfg.Transcript.CapitalizeSentences},
		{"VOXKEY_TRAILING_SPACE", &cfg.Transcript.TrailingSpace},
		{"VOXKEY_INDICATOR", &cfg.Indicator.Enable},
		{"VOXKEY_INDICATOR_SOUND", &cfg.Indicator.SoundEnable},
	}
	for _, bv := range boolVars {
		v, ok := os.LookupEnv(bv.key)
		if !ok {
			continue
		}
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Loaded{}, fmt.Errorf("invalid %s %q: %w", bv.key, v, err)
		}
		*bv.target = enabled
	}

	if v := os.Getenv("VOXKEY_INDICATOR_APP_NAME"); v != "" {
		cfg.Indicator.DesktopAppName = strings.TrimSpace(v)
	}

	commandVars := []struct {
		key    string
		target *CommandConfig
	}{
		{"VOXKEY_CLIPBOARD_COPY_CMD", &cfg.Clipboard},
		{"VOXKEY_CLIPBOARD_PASTE_CMD", &cfg.ClipboardRead},
		{"VOXKEY_PASTE_KEY_CMD", &cfg.PasteKey},
		{"VOXKEY_BROWSER_CMD", &cfg.Browser},
	}
	for _, cv := range commandVars {
		v, ok := os.LookupEnv(cv.key)
		if !ok {
			continue
		}
		argv, err := parseArgv(v)
		if err != nil {
			return Loaded{}, fmt.Errorf("invalid %s: %w", cv.key, err)
		}
		if len(argv) == 0 {
			warnings = append(warnings, Warning{
				Key:     cv.key,
				Message: "command is empty; keeping default",
			})
			continue
		}
		*cv.target = CommandConfig{Raw: v, Argv: argv}
	}

	if v := os.Getenv("VOXKEY_LOG_LEVEL"); v != "" {
		level := strings.ToLower(strings.TrimSpace(v))
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			warnings = append(warnings, Warning{
				Key:     "VOXKEY_LOG_LEVEL",
				Message: fmt.Sprintf("unknown level %q; keeping %q", v, cfg.LogLevel),
			})
		}
	}

	if err := validate(cfg); err != nil {
		return Loaded{}, err
	}

	return Loaded{Config: cfg, Warnings: warnings}, nil
}

// validate rejects configurations the servers cannot start with.
func validate(cfg Config) error {
	if strings.TrimSpace(cfg.BindAddress) == "" {
		return fmt.Errorf("bind address cannot be empty")
	}
	if cfg.WSPort == cfg.HTTPPort {
		return fmt.Errorf("websocket and http ports must differ (both %d)", cfg.WSPort)
	}
	if strings.TrimSpace(cfg.Page.Path) == "" {
		return fmt.Errorf("capture page path cannot be empty")
	}
	if cfg.Channel.AuthTimeout <= 0 {
		return fmt.Errorf("auth timeout must be positive")
	}
	if cfg.Channel.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive")
	}
	return nil
}

func loadPort(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	port, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s: port %d out of range", key, port)
	}
	*target = port
	return nil
}

func loadSeconds(key string, target *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if seconds <= 0 {
		return fmt.Errorf("invalid %s: must be a positive number of seconds", key)
	}
	*target = time.Duration(seconds) * time.Second
	return nil
}

// pageName reduces a page path to the single resource name the
// restricted responder recognizes.
func pageName(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
