package session

import (
	"regexp"
	"testing"
)

func TestPatternSpecEarliestMatchWins(t *testing.T) {
	spec := Patterns(Literal("world"), Literal("hello"))

	m, ok := spec.find([]byte("hello world"))
	if !ok {
		t.Fatal("no match")
	}
	if m.index != 1 {
		t.Fatalf("index = %d, want 1 (earliest occurrence, not declaration order)", m.index)
	}
	if m.start != 0 || m.end != 5 {
		t.Fatalf("match at [%d:%d], want [0:5]", m.start, m.end)
	}
}

func TestPatternSpecTieBreaksByOrder(t *testing.T) {
	spec := Patterns(Literal("ab"), Literal("abc"))

	m, ok := spec.find([]byte("xxabc"))
	if !ok {
		t.Fatal("no match")
	}
	if m.index != 0 {
		t.Fatalf("index = %d, want 0 (first alternative wins the tie)", m.index)
	}
}

func TestPatternSpecRegexpAlternative(t *testing.T) {
	spec := Patterns(
		Literal("login:"),
		Regexp(regexp.MustCompile(`\$ $`)),
	)

	m, ok := spec.find([]byte("motd\nuser@box:~$ "))
	if !ok {
		t.Fatal("no match")
	}
	if m.index != 1 {
		t.Fatalf("index = %d, want 1", m.index)
	}
	if string([]byte("motd\nuser@box:~$ ")[m.start:m.end]) != "$ " {
		t.Fatalf("unexpected match bounds [%d:%d]", m.start, m.end)
	}
}

func TestPatternSpecNoMatch(t *testing.T) {
	spec := Patterns(Literal("prompt>"))
	if _, ok := spec.find([]byte("still working...")); ok {
		t.Fatal("matched where it should not")
	}
}

func TestNothingIsEmpty(t *testing.T) {
	if !Nothing().Empty() {
		t.Fatal("Nothing() is not empty")
	}
	if Patterns(Literal("x")).Empty() {
		t.Fatal("one-alternative spec reported empty")
	}
}
