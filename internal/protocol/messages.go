package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Participant is the requested id; the server assigns one when empty.
	Participant string `json:"participant,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Participant     string `json:"participant"`
	Rows            int    `json:"rows"`
	Cols            int    `json:"cols"`
	Rule            string `json:"rule"`
	Playing         bool   `json:"playing"`
}

// EDIT (client -> server)
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	Alive           bool   `json:"alive"`
}

// STROKE (client -> server) paints a line of cells.
type StrokeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X0              int    `json:"x0"`
	Y0              int    `json:"y0"`
	X1              int    `json:"x1"`
	Y1              int    `json:"y1"`
	Alive           bool   `json:"alive"`
}

// TOGGLE (client -> server)
type ToggleMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
}

// PLAY, STOP, STEP (client -> server)
type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// RULE (client -> server)
type RuleMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Rule            string `json:"rule"`
}

// FRAME (server -> client) carries the displayed grid. Cells is the
// run-length encoding of the row-major codes; codes index Participants.
type FrameMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Generation      uint64   `json:"generation"`
	Rows            int      `json:"rows"`
	Cols            int      `json:"cols"`
	Rule            string   `json:"rule"`
	Playing         bool     `json:"playing"`
	Pending         int      `json:"pending"`
	Participants    []string `json:"participants"`
	Cells           string   `json:"cells"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
