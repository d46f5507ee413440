package session

import (
	"bytes"
	"regexp"
)

// Pattern locates the first occurrence of itself in a byte slice.
type Pattern interface {
	find(p []byte) (start, end int, ok bool)
}

type literalPattern []byte

func (l literalPattern) find(p []byte) (int, int, bool) {
	i := bytes.Index(p, l)
	if i < 0 {
		return 0, 0, false
	}
	return i, i + len(l), true
}

type regexpPattern struct {
	re *regexp.Regexp
}

func (r regexpPattern) find(p []byte) (int, int, bool) {
	loc := r.re.FindIndex(p)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

// Literal matches s exactly.
func Literal(s string) Pattern { return literalPattern(s) }

// Regexp matches re anywhere in the unread output.
func Regexp(re *regexp.Regexp) Pattern { return regexpPattern{re: re} }

// PatternSpec is an ordered list of alternatives. The zero value matches
// nothing: an expect against it collects output until timeout or EOF.
type PatternSpec struct {
	alts []Pattern
}

// Patterns builds a spec from ordered alternatives.
func Patterns(alts ...Pattern) PatternSpec {
	return PatternSpec{alts: alts}
}

// Nothing is the "no pattern, just wait" sentinel.
func Nothing() PatternSpec { return PatternSpec{} }

// Empty reports whether the spec has no alternatives.
func (ps PatternSpec) Empty() bool { return len(ps.alts) == 0 }

type matchLoc struct {
	index      int
	start, end int
}

// find returns the winning match in p: earliest start offset, ties broken
// by alternative order.
func (ps PatternSpec) find(p []byte) (matchLoc, bool) {
	best := matchLoc{}
	found := false
	for i, alt := range ps.alts {
		s, e, ok := alt.find(p)
		if !ok {
			continue
		}
		if !found || s < best.start {
			best = matchLoc{index: i, start: s, end: e}
			found = true
		}
	}
	return best, found
}
