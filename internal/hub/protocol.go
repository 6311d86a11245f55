package hub

// ClientMessage is the envelope for every message a websocket client sends.
// Type selects which other fields are meaningful.
type ClientMessage struct {
	Type string `json:"type"`

	// Session addresses an existing session (input, resize, close).
	Session string `json:"session,omitempty"`

	// Create fields. Command is parsed shell-style into program and
	// arguments; Env overrides are applied on top of the daemon's
	// environment.
	Command string            `json:"command,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Resize fields, also honored on create.
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`

	// Input payload, forwarded verbatim to the child's stdin.
	Data string `json:"data,omitempty"`
}

// ServerMessage is the envelope for every message the daemon pushes.
type ServerMessage struct {
	Type     string `json:"type"`
	Session  string `json:"session,omitempty"`
	Data     string `json:"data,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Rows     uint16 `json:"rows,omitempty"`
	Cols     uint16 `json:"cols,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Server message types.
const (
	TypeCreated = "created"
	TypeOutput  = "output"
	TypeExited  = "exited"
	TypeSize    = "size"
	TypeError   = "error"
)

// Client message types.
const (
	TypeCreate  = "create"
	TypeInput   = "input"
	TypeResize  = "resize"
	TypeGetSize = "get_size"
	TypeClose   = "close"
)
