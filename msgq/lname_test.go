package msgq

import (
	"strings"
	"testing"
)

func TestLNameGeneratorProducesDistinctNames(t *testing.T) {
	g := newLNameGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := g.next()
		if seen[name] {
			t.Fatalf("duplicate lname %q at iteration %d", name, i)
		}
		seen[name] = true
		if strings.Count(name, "@") != 1 || strings.Count(name, "_") == 0 {
			t.Errorf("lname %q does not match <hex_time>_<hex_counter>@<hostname>", name)
		}
	}
}

func TestLNameGeneratorCounterIncrements(t *testing.T) {
	g := newLNameGenerator()
	start := g.counter
	g.next()
	if g.counter != start+1 {
		t.Errorf("counter = %d, want %d", g.counter, start+1)
	}
}
