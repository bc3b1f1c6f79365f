package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Rule/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrNoMatch       = "E_NO_MATCH"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrInvalidTarget:   {},
	ErrNoMatch:         {},
	ErrNoResource:      {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

var codeText = map[string]string{
	ErrProtoBadRequest: "malformed message",
	ErrProtoVersion:    "unsupported protocol version",
	ErrBadRequest:      "request rejected",
	ErrInvalidTarget:   "no such recipe",
	ErrNoMatch:         "no structure here matches",
	ErrNoResource:      "not enough materials held",
	ErrRateLimit:       "too many requests",
	ErrInternal:        "internal error",
}

// Describe returns a short human-readable line for a code.
func Describe(code string) string {
	if code == "" {
		return "ok"
	}
	if s, ok := codeText[code]; ok {
		return s
	}
	return code
}
