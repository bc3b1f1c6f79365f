package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello      = "HELLO"
	TypeWelcome    = "WELCOME"
	TypeSetCell    = "SET_CELL"
	TypeGive       = "GIVE"
	TypeProbe      = "PROBE"
	TypeAssemble   = "ASSEMBLE"
	TypeCraftToken = "CRAFT_TOKEN"
	TypeRecipes    = "RECIPES"
	TypeResult     = "RESULT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
