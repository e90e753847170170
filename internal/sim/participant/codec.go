// Package participant maps participant identities to the compact codes used
// on the wire.
package participant

import (
	"strconv"
	"strings"
)

// Code is the position of a participant in the grid header line.
type Code int32

const (
	// None marks a dead cell (empty field on the wire).
	None Code = -1
	// Unknown marks a live cell whose field could not be parsed.
	Unknown Code = -2
)

// Anonymous is the id used for live cells without an owner.
const Anonymous = ""

// Codec is the session table of participant ids. Encoding appends ids in
// first-use order; an authoritative header replaces the whole table.
//
// Codec is not safe for concurrent use; it belongs to the session loop.
type Codec struct {
	ids   []string
	index map[string]Code
}

func NewCodec() *Codec {
	return &Codec{index: map[string]Code{}}
}

// Valid reports whether id can be carried in the header line.
func Valid(id string) bool {
	return !strings.ContainsAny(id, ",\n\r")
}

// Encode returns the code for id, appending it to the table on first use.
// Ids that cannot be carried in the header are encoded as Anonymous.
func (c *Codec) Encode(id string) Code {
	if !Valid(id) {
		id = Anonymous
	}
	if code, ok := c.index[id]; ok {
		return code
	}
	code := Code(len(c.ids))
	c.ids = append(c.ids, id)
	c.index[id] = code
	return code
}

// Decode looks up code. Out-of-range codes report ok=false, which callers
// treat as "no owner".
func (c *Codec) Decode(code Code) (id string, ok bool) {
	if code < 0 || int(code) >= len(c.ids) {
		return "", false
	}
	return c.ids[code], true
}

// Reset rebuilds the table from a decoded header. Nothing from the previous
// table is kept. A repeated id keeps its first position.
func (c *Codec) Reset(ids []string) {
	c.ids = c.ids[:0]
	clear(c.index)
	for _, id := range ids {
		c.ids = append(c.ids, id)
		if _, dup := c.index[id]; !dup {
			c.index[id] = Code(len(c.ids) - 1)
		}
	}
}

// IDs returns a copy of the table in code order.
func (c *Codec) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

func (c *Codec) Len() int { return len(c.ids) }

// ParseCode parses a wire field. The empty field is None; anything that is
// not a non-negative decimal is Unknown.
func ParseCode(field string) Code {
	if field == "" {
		return None
	}
	n, err := strconv.ParseUint(field, 10, 31)
	if err != nil {
		return Unknown
	}
	return Code(n)
}

// FormatCode is the inverse of ParseCode for None and valid codes.
func FormatCode(code Code) string {
	if code == None {
		return ""
	}
	if code < 0 {
		// A live cell must stay live on the wire; point past the table.
		return strconv.Itoa(int(^uint32(0) >> 1))
	}
	return strconv.Itoa(int(code))
}
