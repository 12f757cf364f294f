package episode

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	ok := []Episode{
		{Entry: 0, From: "a", Exit: 1, To: "b"},
		{Entry: 1, From: "b", Exit: 1, To: "c"}, // zero length is legal
	}
	if err := Validate(ok); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := append(ok, Episode{Entry: 3, From: "a", Exit: 2, To: "b"})
	err := Validate(bad)
	if !errors.Is(err, ErrReversedEpisode) {
		t.Fatalf("want ErrReversedEpisode, got %v", err)
	}
}

func TestStates(t *testing.T) {
	eps := []Episode{
		{From: "ill", To: "dead"},
		{From: "healthy", To: "ill"},
		{From: "ill", To: "healthy"},
	}
	origins, dests := States(eps)

	wantOrigins := []string{"healthy", "ill"}
	if len(origins) != len(wantOrigins) {
		t.Fatalf("origins = %v", origins)
	}
	for i, s := range wantOrigins {
		if origins[i] != s {
			t.Errorf("origins[%d] = %s, want %s", i, origins[i], s)
		}
	}

	// Destinations include origins so the intrastate cell always exists.
	wantDests := []string{"dead", "healthy", "ill"}
	if len(dests) != len(wantDests) {
		t.Fatalf("dests = %v", dests)
	}
	for i, s := range wantDests {
		if dests[i] != s {
			t.Errorf("dests[%d] = %s, want %s", i, dests[i], s)
		}
	}
}

func TestCollect(t *testing.T) {
	type row struct {
		start, stop float64
		status      string
	}
	rows := []row{{0, 4, "dead"}, {1, 3, "cens"}}

	eps := Collect(rows, func(r row) Episode {
		return Episode{Entry: r.start, From: "alive", Exit: r.stop, To: r.status}
	})
	if len(eps) != 2 {
		t.Fatalf("len = %d", len(eps))
	}
	if eps[1].Entry != 1 || eps[1].To != "cens" || eps[1].From != "alive" {
		t.Errorf("eps[1] = %+v", eps[1])
	}
}
