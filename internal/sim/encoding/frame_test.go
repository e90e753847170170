package encoding

import (
	"testing"

	"lifegrid.ai/internal/sim/participant"
)

const (
	n = participant.None
	u = participant.Unknown
)

func TestFrame_RoundTrip(t *testing.T) {
	in := Frame{
		Participants: []string{"alice", "bob", "carol"},
		Rows:         3,
		Cols:         4,
		Codes: []participant.Code{
			0, n, n, 2,
			n, n, n, n,
			1, 1, 0, n,
		},
	}
	text := EncodeFrame(in)
	want := "alice,bob,carol\n0,,,2\n,,,\n1,1,0,"
	if text != want {
		t.Fatalf("EncodeFrame:\n got %q\nwant %q", text, want)
	}
	out := DecodeFrame(text, 3, 4)
	assertFrame(t, out, in)
}

func TestFrame_RoundTripOwnerless(t *testing.T) {
	cases := []struct {
		name string
		in   Frame
	}{
		{"unknown code", Frame{Participants: []string{"alice"}, Rows: 1, Cols: 3, Codes: []participant.Code{u, 0, n}}},
		{"anonymous only", Frame{Participants: []string{participant.Anonymous}, Rows: 1, Cols: 3, Codes: []participant.Code{0, n, 0}}},
		{"no table", Frame{Rows: 1, Cols: 2, Codes: []participant.Code{u, n}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertFrame(t, DecodeFrame(EncodeFrame(tc.in), tc.in.Rows, tc.in.Cols), tc.in)
		})
	}
}

func TestFrame_RoundTripEmpty(t *testing.T) {
	in := NewFrame(2, 2)
	out := DecodeFrame(EncodeFrame(in), 2, 2)
	assertFrame(t, out, in)
	if len(out.Participants) != 0 {
		t.Fatalf("participants: got %q", out.Participants)
	}
}

func TestDecodeFrame_IsTotal(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []participant.Code
	}{
		{"empty", "", []participant.Code{n, n, n, n, n, n}},
		{"header only", "a,b", []participant.Code{n, n, n, n, n, n}},
		{"short row", "a\n0", []participant.Code{0, n, n, n, n, n}},
		{"missing row", "a\n0,0,0", []participant.Code{0, 0, 0, n, n, n}},
		{"long row", "a\n0,0,0,0,0\n,,,0", []participant.Code{0, 0, 0, n, n, n}},
		{"extra rows", "a\n,,\n,,\n0,0,0", []participant.Code{n, n, n, n, n, n}},
		{"garbage field", "a\nx,-3,7", []participant.Code{u, u, u, n, n, n}},
		{"past table", "a,b\n1,2,0", []participant.Code{1, u, 0, n, n, n}},
		{"anonymous header", "\n0,,", []participant.Code{0, n, n, n, n, n}},
		{"crlf", "a\r\n0,,\r\n,,0", []participant.Code{0, n, n, n, n, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := DecodeFrame(tc.text, 2, 3)
			if len(f.Codes) != 6 {
				t.Fatalf("len codes: got %d", len(f.Codes))
			}
			for i := range tc.want {
				if f.Codes[i] != tc.want[i] {
					t.Fatalf("code %d: got %d want %d (%v)", i, f.Codes[i], tc.want[i], f.Codes)
				}
			}
		})
	}
}

func TestCellKey(t *testing.T) {
	if k := CellKey(12, 3); k != "12,3" {
		t.Fatalf("CellKey: %q", k)
	}
	x, y, ok := ParseCellKey("12,3")
	if !ok || x != 12 || y != 3 {
		t.Fatalf("ParseCellKey: %d %d %v", x, y, ok)
	}
	for _, k := range []string{"cells", "rule", "1", "a,b", "-1,2", "1,2,3"} {
		if _, _, ok := ParseCellKey(k); ok {
			t.Fatalf("ParseCellKey(%q) should fail", k)
		}
	}
}

func assertFrame(t *testing.T, got, want Frame) {
	t.Helper()
	if got.Rows != want.Rows || got.Cols != want.Cols {
		t.Fatalf("dims: got %dx%d want %dx%d", got.Rows, got.Cols, want.Rows, want.Cols)
	}
	if len(got.Participants) != len(want.Participants) {
		t.Fatalf("participants: got %q want %q", got.Participants, want.Participants)
	}
	for i := range want.Participants {
		if got.Participants[i] != want.Participants[i] {
			t.Fatalf("participant %d: got %q want %q", i, got.Participants[i], want.Participants[i])
		}
	}
	for i := range want.Codes {
		if got.Codes[i] != want.Codes[i] {
			t.Fatalf("code %d: got %d want %d", i, got.Codes[i], want.Codes[i])
		}
	}
}
