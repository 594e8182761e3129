package memory

import (
	"context"
	"strings"
	"testing"
)

func TestContextAssembler_MatchesSummary(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	a := NewContextAssembler(s)

	if got := a.BuildContext("U"); got != NoMemories {
		t.Errorf("BuildContext on empty log = %q, want %q", got, NoMemories)
	}

	appendN(t, s, "U", 1, 12)
	if got, want := a.BuildContext("U"), s.Summary("U"); got != want {
		t.Errorf("BuildContext = %q, want %q", got, want)
	}
}

func TestContextAssembler_Bounded(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	a := NewContextAssembler(s)

	for i := 0; i < 120; i++ {
		if err := s.Append(context.Background(), "U", "multi\nline\nentry"); err != nil {
			t.Fatal(err)
		}
		if lines := strings.Count(a.BuildContext("U"), "\n") + 1; lines > 5 {
			t.Fatalf("context has %d lines after %d appends, want <= 5", lines, i+1)
		}
	}
}
