// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

// MessageType enumerates the bus messages the recorder reacts to.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageEOS
	MessageError
	MessageWarning
	MessageStateChanged
)

func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageStateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// Message is a decoded bus message.
type Message struct {
	Type     MessageType
	Source   string
	Err      error
	Debug    string
	OldState State
	NewState State
}
