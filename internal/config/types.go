// Package config resolves, parses, validates, and defaults voxkey configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by voxkey.
type Config struct {
	BindAddress string
	WSPort      int
	HTTPPort    int

	Page       PageConfig
	Channel    ChannelConfig
	Paste      PasteConfig
	Transcript TranscriptConfig
	Indicator  IndicatorConfig

	Clipboard     CommandConfig
	ClipboardRead CommandConfig
	PasteKey      CommandConfig
	Browser       CommandConfig

	LogLevel string
}

// PageConfig locates the capture page served to the browser.
type PageConfig struct {
	Path string
	Name string
}

// ChannelConfig controls control-channel timing behavior.
type ChannelConfig struct {
	AuthTimeout    time.Duration
	PingInterval   time.Duration
	ConnectTimeout time.Duration
}

// PasteConfig controls post-commit paste behavior.
type PasteConfig struct {
	Enable bool
	Delay  time.Duration
}

// TranscriptConfig controls normalization applied to recognized text
// before it is committed.
type TranscriptConfig struct {
	CapitalizeSentences bool
	TrailingSpace       bool
}

// IndicatorConfig controls desktop notifications and audio cues that
// signal dictation state changes.
type IndicatorConfig struct {
	Enable         bool
	SoundEnable    bool
	DesktopAppName string
	ErrorTimeoutMS int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal load message.
type Warning struct {
	Key     string
	Message string
}
