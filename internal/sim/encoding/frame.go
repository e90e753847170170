package encoding

import (
	"slices"
	"strings"

	"lifegrid.ai/internal/sim/participant"
)

// Frame is the decoded form of the whole-grid value.
type Frame struct {
	Participants []string
	Rows, Cols   int
	// Codes is row-major, len Rows*Cols.
	Codes []participant.Code
}

// NewFrame returns an all-dead frame.
func NewFrame(rows, cols int) Frame {
	codes := make([]participant.Code, rows*cols)
	for i := range codes {
		codes[i] = participant.None
	}
	return Frame{Rows: rows, Cols: cols, Codes: codes}
}

// EncodeFrame renders the wire text: a header line of participant ids then
// one line of comma-separated codes per row.
func EncodeFrame(f Frame) string {
	var b strings.Builder
	b.Grow(len(f.Codes)*2 + 16*len(f.Participants))
	b.WriteString(strings.Join(f.Participants, ","))
	for y := 0; y < f.Rows; y++ {
		b.WriteByte('\n')
		row := f.Codes[y*f.Cols : (y+1)*f.Cols]
		for x, code := range row {
			if x > 0 {
				b.WriteByte(',')
			}
			b.WriteString(participant.FormatCode(code))
		}
	}
	return b.String()
}

// DecodeFrame parses wire text into a rows×cols frame. It never fails:
// missing rows and fields are dead, extra rows and fields are dropped, and
// unparseable or out-of-table fields become participant.Unknown (a live cell
// with no owner). An empty header line with code 0 in use is the table
// holding only the anonymous id.
func DecodeFrame(text string, rows, cols int) Frame {
	f := NewFrame(rows, cols)
	if text == "" {
		return f
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if lines[0] != "" {
		f.Participants = strings.Split(lines[0], ",")
	}
	lines = lines[1:]
	for y := 0; y < rows && y < len(lines); y++ {
		if lines[y] == "" {
			continue
		}
		fields := strings.Split(lines[y], ",")
		row := f.Codes[y*cols : (y+1)*cols]
		for x := 0; x < cols && x < len(fields); x++ {
			row[x] = participant.ParseCode(fields[x])
		}
	}
	if f.Participants == nil && slices.Contains(f.Codes, 0) {
		f.Participants = []string{participant.Anonymous}
	}
	for i, code := range f.Codes {
		if int(code) >= len(f.Participants) {
			f.Codes[i] = participant.Unknown
		}
	}
	return f
}
