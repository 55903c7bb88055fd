// Package observer serves the simulation state to external watchers:
// a WebSocket stream of compressed sync frames plus a read-only HTTP API.
package observer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/mini-market/internal/history"
	"github.com/talgya/mini-market/internal/market"
	"github.com/talgya/mini-market/internal/narrative"
	"github.com/talgya/mini-market/internal/persistence"
	"github.com/talgya/mini-market/internal/wire"
)

// Clock reports the simulation's current tick.
type Clock interface {
	CurrentTick() uint64
}

// Server serves market state over HTTP.
type Server struct {
	Market    *market.Engine
	Registry  market.Registry
	History   *history.Store
	DB        *persistence.DB
	Hub       *Hub
	Comp      *wire.Compressor
	Narrative *narrative.Queue // nil disables /api/v1/narrate
	Clock     Clock
	Addr      string
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	narrateLimiter := NewRateLimiter(10, time.Hour)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/goods", s.handleGoods)
	mux.HandleFunc("/api/v1/prices", s.handlePrices)
	mux.HandleFunc("/api/v1/good/", s.handleGoodDetail)
	mux.HandleFunc("/api/v1/history/", s.handleHistory)
	mux.HandleFunc("/api/v1/candles/", s.handleCandles)
	mux.HandleFunc("/api/v1/records/", s.handleRecords)
	mux.HandleFunc("/api/v1/listings", s.handleListings)
	mux.HandleFunc("/api/v1/trends", s.handleTrends)
	mux.HandleFunc("/api/v1/wire/stats", s.handleWireStats)
	mux.HandleFunc("/api/v1/narrate", rateLimited(narrateLimiter, s.handleNarrate))

	mux.HandleFunc("/ws", s.Hub.HandleWS)

	slog.Info("HTTP API starting", "addr", s.Addr, "narrative", s.Narrative != nil)

	go func() {
		if err := http.ListenAndServe(s.Addr, corsMiddleware(mux)); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware allows localhost dev frontends plus any origins named in
// the CORS_ORIGINS env var (comma-separated).
func corsMiddleware(next http.Handler) http.Handler {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowed[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"name":      "mini-market",
		"tick":      s.Clock.CurrentTick(),
		"goods":     len(s.Registry.Goods()),
		"listings":  len(s.Market.Listings()),
		"trends":    len(s.Market.ActiveTrends()),
		"observers": s.Hub.ClientCount(),
	})
}

func (s *Server) handleGoods(w http.ResponseWriter, r *http.Request) {
	goods := s.Registry.Goods()
	sort.Slice(goods, func(i, j int) bool { return goods[i].ID < goods[j].ID })
	writeJSON(w, goods)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Market.Prices())
}

// handleGoodDetail returns one good's definition, market state, and tags.
// GET /api/v1/good/:id
func (s *Server) handleGoodDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/good/")
	def, ok := s.Registry.Lookup(id)
	if !ok {
		http.Error(w, "unknown good", http.StatusNotFound)
		return
	}
	state, ok := s.Market.State(id)
	if !ok {
		// Registry and engine are seeded from the same good set, but the
		// engine is authoritative for market state.
		http.Error(w, "unknown good", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"definition": def,
		"state":      state,
		"tags":       s.Market.Tags(id),
	})
}

// handleHistory returns the most recent in-memory history for a good.
// GET /api/v1/history/:id?points=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/history/")
	points := queryInt(r, "points", 100)

	buckets, err := s.History.Recent(id, points)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, buckets)
}

// handleCandles returns OHLCV candles at the nearest stored resolution.
// GET /api/v1/candles/:id?resolution=N
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/candles/")
	resolution := queryInt(r, "resolution", 5)

	buckets, err := s.History.Candles(id, resolution)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, buckets)
}

// handleRecords returns archived daily price records from the database.
// GET /api/v1/records/:id?from=T&to=T
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "archive unavailable", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/records/")
	from := uint64(queryInt(r, "from", 0))
	to := uint64(queryInt(r, "to", int(s.Clock.CurrentTick())))

	records, err := s.DB.PriceRecords(id, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	listings := s.Market.Listings()
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	writeJSON(w, listings)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Market.ActiveTrends())
}

func (s *Server) handleWireStats(w http.ResponseWriter, r *http.Request) {
	stats := s.Comp.Stats()
	writeJSON(w, map[string]any{
		"frames":       stats.Frames,
		"bytes_before": stats.BytesBefore,
		"bytes_after":  stats.BytesAfter,
		"ratio":        stats.Ratio(),
	})
}

// handleNarrate generates a short narration of a good's current market
// situation. Interactive priority: a human is waiting on the response.
// GET /api/v1/narrate?good=:id
func (s *Server) handleNarrate(w http.ResponseWriter, r *http.Request) {
	if s.Narrative == nil {
		http.Error(w, "narration disabled", http.StatusServiceUnavailable)
		return
	}
	id := r.URL.Query().Get("good")
	def, ok := s.Registry.Lookup(id)
	if !ok {
		http.Error(w, "unknown good", http.StatusNotFound)
		return
	}

	price, _ := s.Market.CurrentPrice(id)
	state, ok := s.Market.State(id)
	if !ok {
		http.Error(w, "unknown good", http.StatusNotFound)
		return
	}
	prompt := fmt.Sprintf(
		"Good: %s. Current price: %.0f crowns (base %.0f). Supply %.0f, demand %.0f.",
		def.Name, price, def.BasePrice, state.Supply, state.Demand,
	)
	req := narrative.NewRequest(narrative.PriorityInteractive, "market_summary",
		"You are the town market crier. In two sentences, describe the state of this good's trade.",
		prompt, 200)

	text, err := s.Narrative.Submit(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"good": id, "narration": text})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
