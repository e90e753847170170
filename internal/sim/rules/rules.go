// Package rules builds the survive/birth lookup used by the life engine.
package rules

import (
	"errors"
	"fmt"
	"strings"
)

// Rule packs nine survive bits (0..8) and nine birth bits (9..17).
type Rule uint32

const birthShift = 9

// Conway is S23/B3.
var Conway = Make([]int{2, 3}, []int{3})

var ErrMalformed = errors.New("malformed rule")

// Make builds a rule from neighbor counts. Counts outside 0..8 are ignored.
func Make(survive, birth []int) Rule {
	var r Rule
	for _, n := range survive {
		if n >= 0 && n <= 8 {
			r |= 1 << n
		}
	}
	for _, n := range birth {
		if n >= 0 && n <= 8 {
			r |= 1 << (n + birthShift)
		}
	}
	return r
}

// WillLive reports the next state of a cell with the given liveness and
// live-neighbor count.
func (r Rule) WillLive(alive bool, count int) bool {
	if alive {
		return r&(1<<count) != 0
	}
	return r&(1<<(count+birthShift)) != 0
}

// Parse reads an "S/B" rule such as "23/3" or "2,3/3". Separators (commas,
// spaces) between digits are tolerated.
func Parse(s string) (Rule, error) {
	sv, bv, ok := strings.Cut(s, "/")
	if !ok || strings.Contains(bv, "/") {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	survive, err := counts(sv)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: survive: %v", ErrMalformed, s, err)
	}
	birth, err := counts(bv)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: birth: %v", ErrMalformed, s, err)
	}
	return Make(survive, birth), nil
}

func counts(s string) ([]int, error) {
	var out []int
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '8':
			out = append(out, int(ch-'0'))
		case ch == ',' || ch == ' ':
		default:
			return nil, fmt.Errorf("unexpected %q", ch)
		}
	}
	return out, nil
}

// String renders the rule in canonical "S/B" form.
func (r Rule) String() string {
	var b strings.Builder
	for n := 0; n <= 8; n++ {
		if r&(1<<n) != 0 {
			b.WriteByte(byte('0' + n))
		}
	}
	b.WriteByte('/')
	for n := 0; n <= 8; n++ {
		if r&(1<<(n+birthShift)) != 0 {
			b.WriteByte(byte('0' + n))
		}
	}
	return b.String()
}
