package state

import (
	"encoding/json"
	"slices"
	"strings"
)

// Set is an immutable set of permission or role codes.
// Its JSON form is a sorted list; duplicates collapse on decode.
type Set struct {
	m map[string]struct{}
}

// NewSet builds a Set from codes. Blank codes are ignored.
func NewSet(codes ...string) Set {
	m := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		m[c] = struct{}{}
	}
	return Set{m: m}
}

func (s Set) Has(code string) bool {
	_, ok := s.m[code]
	return ok
}

func (s Set) Len() int { return len(s.m) }

// Sorted returns the members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s.m))
	for c := range s.m {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Equal reports whether s and o hold the same members.
func (s Set) Equal(o Set) bool {
	if len(s.m) != len(o.m) {
		return false
	}
	for c := range s.m {
		if _, ok := o.m[c]; !ok {
			return false
		}
	}
	return true
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *Set) UnmarshalJSON(b []byte) error {
	var codes []string
	if err := json.Unmarshal(b, &codes); err != nil {
		return err
	}
	*s = NewSet(codes...)
	return nil
}

func (s Set) String() string { return "[" + strings.Join(s.Sorted(), " ") + "]" }
