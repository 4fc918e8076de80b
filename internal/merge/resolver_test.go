package merge

import (
	"testing"
)

func TestResolveWhitespaceOnlyKeepsTheirs(t *testing.T) {
	ours := "func main() {\n\tfmt.Println(\"hi\")\n}\n"
	theirs := "func main() {\n    fmt.Println(\"hi\")\n}\n"

	content, kind := Resolve("", ours, theirs)
	if kind != ResolvedTheirs {
		t.Fatalf("kind = %v, want ResolvedTheirs", kind)
	}
	if content != theirs {
		t.Errorf("content = %q, want theirs", content)
	}
}

func TestResolveDisjointInsertions(t *testing.T) {
	ancestor := "a\nb\nc\n"
	ours := "a\nours\nb\nc\n"    // inserted before b
	theirs := "a\nb\nc\ntheirs\n" // appended at the end

	content, kind := Resolve(ancestor, ours, theirs)
	if kind != ResolvedCombined {
		t.Fatalf("kind = %v, want ResolvedCombined", kind)
	}
	want := "a\nours\nb\nc\ntheirs\n"
	if content != want {
		t.Errorf("content = %q, want %q", content, want)
	}
}

func TestResolveOverlappingInsertionsRefused(t *testing.T) {
	ancestor := "a\nb\n"
	ours := "a\nX\nb\n"
	theirs := "a\nY\nb\n"

	if _, kind := Resolve(ancestor, ours, theirs); kind != Unresolvable {
		t.Errorf("kind = %v, want Unresolvable for same-gap insertions", kind)
	}
}

func TestResolveDeletionRefused(t *testing.T) {
	ancestor := "a\nb\nc\n"
	ours := "a\nc\n" // deleted b
	theirs := "a\nb\nc\nd\n"

	if _, kind := Resolve(ancestor, ours, theirs); kind != Unresolvable {
		t.Errorf("kind = %v, want Unresolvable when a side deletes lines", kind)
	}
}

func TestResolveNoAncestorRefused(t *testing.T) {
	if _, kind := Resolve("", "left\n", "right\n"); kind != Unresolvable {
		t.Errorf("kind = %v, want Unresolvable without an ancestor", kind)
	}
}

func TestInsertionsOf(t *testing.T) {
	inserts, ok := insertionsOf([]string{"a", "b"}, []string{"x", "a", "y", "b", "z"})
	if !ok {
		t.Fatal("expected insertion-only classification")
	}
	if len(inserts[0]) != 1 || inserts[0][0] != "x" {
		t.Errorf("gap 0 = %v", inserts[0])
	}
	if len(inserts[1]) != 1 || inserts[1][0] != "y" {
		t.Errorf("gap 1 = %v", inserts[1])
	}
	if len(inserts[2]) != 1 || inserts[2][0] != "z" {
		t.Errorf("gap 2 = %v", inserts[2])
	}
}
