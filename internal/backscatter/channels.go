package backscatter

import (
	"strings"

	"github.com/banshee-data/seathru/internal/errs"
)

// Output channel positions.
const (
	Red = iota
	Green
	Blue
)

// ChannelOrder maps each output channel (Red, Green, Blue) to the index of
// the image channel that carries it.
type ChannelOrder [3]int

// Common orders.
var (
	RGB = ChannelOrder{0, 1, 2}
	BGR = ChannelOrder{2, 1, 0}
)

// ParseChannelOrder parses a permutation of "r", "g" and "b" such as
// "rgb" or "bgr", naming the image channels in storage order.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 3 {
		return ChannelOrder{}, errs.Invalid("channel order %q must name r, g and b once each", s)
	}
	var order ChannelOrder
	var seen [3]bool
	for idx, ch := range s {
		var out int
		switch ch {
		case 'r':
			out = Red
		case 'g':
			out = Green
		case 'b':
			out = Blue
		default:
			return ChannelOrder{}, errs.Invalid("channel order %q: unknown channel %q", s, ch)
		}
		if seen[out] {
			return ChannelOrder{}, errs.Invalid("channel order %q repeats %q", s, ch)
		}
		seen[out] = true
		order[out] = idx
	}
	return order, nil
}

// Valid reports whether o is a permutation of 0, 1, 2.
func (o ChannelOrder) Valid() bool {
	var seen [3]bool
	for _, c := range o {
		if c < 0 || c > 2 || seen[c] {
			return false
		}
		seen[c] = true
	}
	return true
}

func (o ChannelOrder) String() string {
	var b [3]byte
	for out, src := range o {
		if src >= 0 && src < 3 {
			b[src] = "rgb"[out]
		}
	}
	return string(b[:])
}
