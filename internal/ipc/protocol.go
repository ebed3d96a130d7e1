package ipc

// Request is one command sent to the running controller. Desktop key
// bindings deliver hotkey activations by invoking the CLI, which
// forwards the command here.
type Request struct {
	Command string `json:"command"`
}

// Response reports the controller's dictation state and, for status
// requests, the number of connected capture clients.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
