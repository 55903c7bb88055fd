package observer

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/talgya/mini-market/internal/market"
)

func TestGoodDetail(t *testing.T) {
	grain := market.GoodDef{ID: "grain", Name: "Grain", BasePrice: 1000, BaseUtility: 10}
	spice := market.GoodDef{ID: "spice", Name: "Spice", BasePrice: 5000, BaseUtility: 3}

	// The registry lists a good the engine was never seeded with.
	eng := market.NewEngine(market.NewStaticRegistry([]market.GoodDef{grain}))
	s := &Server{
		Market:   eng,
		Registry: market.NewStaticRegistry([]market.GoodDef{grain, spice}),
	}

	t.Run("Known Good", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleGoodDetail(w, httptest.NewRequest("GET", "/api/v1/good/grain", nil))
		if w.Code != 200 {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		for _, key := range []string{"definition", "state", "tags"} {
			if _, ok := body[key]; !ok {
				t.Errorf("response missing %q", key)
			}
		}
	})

	t.Run("Unknown To Engine", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleGoodDetail(w, httptest.NewRequest("GET", "/api/v1/good/spice", nil))
		if w.Code != 404 {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("Unknown To Registry", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleGoodDetail(w, httptest.NewRequest("GET", "/api/v1/good/nope", nil))
		if w.Code != 404 {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}
