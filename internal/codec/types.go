package codec

// CommandSpec describes the program to launch inside a new PTY session.
// It is consumed exactly once, by session creation. Fields other than Cmd
// are optional: a nil Env means the child inherits the parent environment,
// an empty Cwd means the current working directory.
type CommandSpec struct {
	Cmd  string            `json:"cmd"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
}

// Size is the terminal geometry of a PTY. Pixel fields are optional on the
// wire and default to 0 when absent. The protocol itself does not forbid
// zero rows or cols; validation is the engine's concern.
type Size struct {
	Rows        uint16 `json:"rows"`
	Cols        uint16 `json:"cols"`
	PixelWidth  uint16 `json:"pixel_width"`
	PixelHeight uint16 `json:"pixel_height"`
}
