package config

import "time"

// Default returns the canonical runtime configuration used when no
// environment overrides are present.
func Default() Config {
	clipboardCopy := "pbcopy"
	clipboardRead := "pbpaste"
	pasteKey := `osascript -e 'tell application "System Events" to keystroke "v" using command down'`
	browser := "open -a 'Google Chrome'"

	return Config{
		BindAddress: "127.0.0.1",
		WSPort:      8081,
		HTTPPort:    8080,
		Page: PageConfig{
			Path: "web/speech-persistent.html",
			Name: "speech-persistent.html",
		},
		Channel: ChannelConfig{
			AuthTimeout:    10 * time.Second,
			PingInterval:   15 * time.Second,
			ConnectTimeout: 15 * time.Second,
		},
		Paste: PasteConfig{
			Enable: true,
			Delay:  300 * time.Millisecond,
		},
		Transcript: TranscriptConfig{
			CapitalizeSentences: true,
			TrailingSpace:       false,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			SoundEnable:    true,
			DesktopAppName: "voxkey",
			ErrorTimeoutMS: 1200,
		},
		Clipboard:     CommandConfig{Raw: clipboardCopy, Argv: mustParseArgv(clipboardCopy)},
		ClipboardRead: CommandConfig{Raw: clipboardRead, Argv: mustParseArgv(clipboardRead)},
		PasteKey:      CommandConfig{Raw: pasteKey, Argv: mustParseArgv(pasteKey)},
		Browser:       CommandConfig{Raw: browser, Argv: mustParseArgv(browser)},
		LogLevel:      "info",
	}
}
