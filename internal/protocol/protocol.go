package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeAck     = "ACK"
	TypeError   = "ERROR"

	TypeBlockBreak   = "BLOCK_BREAK"
	TypeBlockBurn    = "BLOCK_BURN"
	TypeBlockExplode = "BLOCK_EXPLODE"
	TypeBlockPlace   = "BLOCK_PLACE"
	TypeHangingBreak = "HANGING_BREAK"
)

// IsEvent reports whether t is a host mutation frame.
func IsEvent(t string) bool {
	switch t {
	case TypeBlockBreak, TypeBlockBurn, TypeBlockExplode, TypeBlockPlace, TypeHangingBreak:
		return true
	}
	return false
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	EventID         string `json:"event_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
