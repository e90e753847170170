package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"lifegrid.ai/internal/sim/participant"
)

// EncodeRuns packs codes as base64(varint pairs) of (code+1, run_len), so a
// dead cell is stored as 0. Used for renderer frames, not for the shared
// document.
func EncodeRuns(codes []participant.Code) string {
	buf := make([]byte, 0, 64)
	for i := 0; i < len(codes); {
		c := codes[i]
		run := 1
		for i+run < len(codes) && codes[i+run] == c {
			run++
		}
		buf = binary.AppendUvarint(buf, uint64(shift(c)))
		buf = binary.AppendUvarint(buf, uint64(run))
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf)
}

const maxRunCells = 1 << 24

func DecodeRuns(b64 string) ([]participant.Code, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []participant.Code
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > 1<<31 {
			return nil, fmt.Errorf("code too large: %d", v)
		}
		if uint64(len(out))+run > maxRunCells {
			return nil, fmt.Errorf("frame too large at %d", i)
		}
		c := unshift(uint32(v))
		for k := uint64(0); k < run; k++ {
			out = append(out, c)
		}
	}
	return out, nil
}

// Unknown codes are sent as the largest code so renderers show them as
// live cells without an owner.
func shift(c participant.Code) uint32 {
	if c == participant.None {
		return 0
	}
	if c < 0 {
		return 1 << 31
	}
	return uint32(c) + 1
}

func unshift(v uint32) participant.Code {
	if v == 0 {
		return participant.None
	}
	return participant.Code(v - 1)
}
