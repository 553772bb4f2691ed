package match

import (
	"encoding/json"
	"testing"

	"github.com/swap-proto/swap-relay/internal/wire"
)

func crit(t *testing.T, typ, value string) wire.Criterion {
	t.Helper()
	return wire.Criterion{Type: typ, Value: json.RawMessage(value)}
}

func TestFindMatches_SupersetSemantics(t *testing.T) {
	r := NewRegistry()
	r.Register("responder-0001", []wire.Criterion{crit(t, "service", `"video-call"`)})
	r.Register("responder-0002", []wire.Criterion{
		crit(t, "service", `"video-call"`),
		crit(t, "qos", `"high"`),
	})
	r.Register("responder-0003", []wire.Criterion{crit(t, "service", `"chat"`)})

	matches := r.FindMatches([]wire.Criterion{crit(t, "service", `"video-call"`)})
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}

	narrow := r.FindMatches([]wire.Criterion{
		crit(t, "service", `"video-call"`),
		crit(t, "qos", `"high"`),
	})
	if len(narrow) != 1 || narrow[0].EndpointID != "responder-0002" {
		t.Fatalf("expected only responder-0002 for narrow query, got %+v", narrow)
	}
}

func TestFindMatches_EmptyQueryMatchesEveryone(t *testing.T) {
	r := NewRegistry()
	r.Register("responder-0001", []wire.Criterion{crit(t, "service", `"video-call"`)})
	r.Register("responder-0002", nil)

	matches := r.FindMatches(nil)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches for empty query, got %d", len(matches))
	}
}

func TestFindMatches_ValueOrderDoesNotMatterInObjects(t *testing.T) {
	r := NewRegistry()
	r.Register("responder-0001", []wire.Criterion{crit(t, "location", `{"lat":1,"lon":2}`)})

	matches := r.FindMatches([]wire.Criterion{crit(t, "location", `{"lon":2,"lat":1}`)})
	if len(matches) != 1 {
		t.Fatalf("expected canonical value match, got %+v", matches)
	}
}

func TestSelect_SpecificityTieBreak_Deterministic(t *testing.T) {
	matches := []Match{
		{EndpointID: "responder-0001", CriteriaCount: 1},
		{EndpointID: "responder-0002", CriteriaCount: 2},
	}
	got, ok := Select(matches)
	if !ok || got.EndpointID != "responder-0002" {
		t.Fatalf("expected responder-0002 to win on specificity, got %+v ok=%v", got, ok)
	}
}

func TestSelect_UniformWithinTopTier(t *testing.T) {
	matches := []Match{
		{EndpointID: "responder-0001", CriteriaCount: 1},
		{EndpointID: "responder-0002", CriteriaCount: 1},
	}

	counts := map[string]int{}
	const trials = 2000
	for i := 0; i < trials; i++ {
		got, ok := Select(matches)
		if !ok {
			t.Fatalf("expected a selection")
		}
		counts[got.EndpointID]++
	}

	for id, c := range counts {
		frac := float64(c) / float64(trials)
		if frac < 0.45 || frac > 0.55 {
			t.Fatalf("selection for %s not within 5%% of 50/50: frac=%.3f counts=%v", id, frac, counts)
		}
	}
}

func TestSelect_EmptyReturnsFalse(t *testing.T) {
	if _, ok := Select(nil); ok {
		t.Fatalf("expected ok=false for empty matches")
	}
}
