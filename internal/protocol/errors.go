package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Session layer.
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrBadRule     = "E_BAD_RULE"
	ErrOutOfBounds = "E_OUT_OF_BOUNDS"
	ErrUnavailable = "E_UNAVAILABLE"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrBadRule:         {},
	ErrOutOfBounds:     {},
	ErrUnavailable:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
