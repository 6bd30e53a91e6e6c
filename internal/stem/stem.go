// Package stem defines stem identity and manifest parsing for separated
// audio tracks.
package stem

import (
	"errors"
	"fmt"
	"strings"
)

// Name identifies one separated stem of a song.
type Name string

const (
	Vocals Name = "vocals"
	Drums  Name = "drums"
	Bass   Name = "bass"
	Other  Name = "other"
)

// Order is the canonical stem order. Load order, default end-of-track
// reference priority, and display order all derive from it.
var Order = []Name{Vocals, Drums, Bass, Other}

// ErrUnknown marks a stem name outside the recognized set.
var ErrUnknown = errors.New("stem: unknown name")

// Parse validates a stem name.
func Parse(s string) (Name, error) {
	switch Name(s) {
	case Vocals, Drums, Bass, Other:
		return Name(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, s)
}

func (n Name) String() string { return string(n) }

// Index returns the position of n in the canonical order, or -1.
func (n Name) Index() int {
	for i, o := range Order {
		if o == n {
			return i
		}
	}
	return -1
}

// ParseOrder parses a comma-separated stem list into a priority order.
// An empty string yields the canonical order. Names must be recognized
// and unique.
func ParseOrder(s string) ([]Name, error) {
	if strings.TrimSpace(s) == "" {
		return append([]Name(nil), Order...), nil
	}
	parts := strings.Split(s, ",")
	out := make([]Name, 0, len(parts))
	seen := make(map[Name]bool)
	for _, p := range parts {
		n, err := Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		if seen[n] {
			return nil, fmt.Errorf("stem: duplicate %q in order", n)
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}
