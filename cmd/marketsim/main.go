// Command marketsim runs the tick-driven market simulation core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/talgya/mini-market/internal/config"
	"github.com/talgya/mini-market/internal/drift"
	"github.com/talgya/mini-market/internal/history"
	"github.com/talgya/mini-market/internal/logging"
	"github.com/talgya/mini-market/internal/market"
	"github.com/talgya/mini-market/internal/narrative"
	"github.com/talgya/mini-market/internal/observer"
	"github.com/talgya/mini-market/internal/persistence"
	"github.com/talgya/mini-market/internal/pool"
	"github.com/talgya/mini-market/internal/sched"
	"github.com/talgya/mini-market/internal/statesync"
	"github.com/talgya/mini-market/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults used when empty)")
	flag.Parse()

	// ── Config & Logging ──────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	slog.SetDefault(logging.New(cfg))
	slog.Info("mini-market starting", "goods", len(cfg.Goods), "seed", cfg.Sim.Seed)

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755)
	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	// ── Market ────────────────────────────────────────────────────────
	registry := market.NewStaticRegistry(goodDefs(cfg.Goods))
	eng := market.NewEngine(registry)
	eng.SetRecordSink(db)

	hist := history.NewStore()
	eng.SetHistorySink(hist)

	goodIDs := make([]string, 0, len(cfg.Goods))
	for _, g := range cfg.Goods {
		goodIDs = append(goodIDs, g.ID)
	}
	gen := drift.New(cfg.Sim.Seed, goodIDs, 2.0)

	// ── Sync & Wire ───────────────────────────────────────────────────
	syncMgr := statesync.NewManager()
	hub := observer.NewHub(syncMgr)
	comp := wire.NewCompressor(shortCodes(goodIDs))
	batcher := wire.NewBatcher(hub, 0, 0)

	// ── Narrative ─────────────────────────────────────────────────────
	var stories *narrative.Queue
	if cfg.Narrative.Enabled {
		client := narrative.NewClient(cfg.Narrative.APIKey)
		stories = narrative.NewQueue(client,
			cfg.Narrative.Capacity, cfg.Narrative.Workers, 2,
			time.Duration(cfg.Narrative.CacheTTLS)*time.Second)
		stories.Start()
		defer stories.Stop()
		slog.Info("narrative queue enabled",
			"capacity", cfg.Narrative.Capacity, "workers", cfg.Narrative.Workers)
	} else {
		slog.Warn("narrative disabled, market stories will not be generated")
	}

	// ── Worker Pool ───────────────────────────────────────────────────
	tasks := pool.NewRegistry(time.Duration(cfg.Pool.TimeoutMS) * time.Millisecond)
	tasks.Register("daily_record", func(ctx context.Context, data any) (any, error) {
		tick := data.(uint64)
		records := eng.RecordDailyPrices(tick, sched.TicksPerSimDay)
		if err := db.SaveTransactions(eng.Transactions()); err != nil {
			return nil, err
		}
		if err := db.Checkpoint(tick); err != nil {
			return nil, err
		}
		if stories != nil {
			go narrateDay(stories, tick, records)
		}
		return len(records), nil
	})
	workers := pool.New(tasks, cfg.Pool.Workers, 64)
	workers.Start()
	defer workers.Stop()

	// ── Scheduler & Loop ──────────────────────────────────────────────
	scheduler := sched.New()
	loop := sched.NewLoop(time.Duration(cfg.Sim.TickIntervalMS) * time.Millisecond)
	if tickStr, err := db.GetMeta("last_tick"); err == nil {
		if t, err := strconv.ParseUint(tickStr, 10, 64); err == nil {
			loop.SetTick(t)
			slog.Info("resuming", "tick", t, "sim_time", sched.SimTime(t))
		}
	}

	seedTrends(eng, loop.CurrentTick())

	loop.OnTick = func(tick uint64) {
		start := time.Now()
		gen.Apply(eng, tick)
		eng.Tick(tick)
		scheduler.RecordDuration(sched.OpPriceUpdate, time.Since(start))

		publish(tick, eng, hub, syncMgr, comp, batcher, scheduler)
		if err := batcher.Tick(tick); err != nil {
			slog.Error("batch flush failed", "tick", tick, "error", err)
		}

		if scheduler.ShouldExecute(tick, sched.OpPriceRecording, 0) {
			res := tasks.Execute(context.Background(), workers, pool.NewTask("daily_record", tick))
			if res.Err != nil {
				slog.Error("daily record failed", "tick", tick, "error", res.Err)
			} else {
				slog.Info("daily records archived",
					"tick", tick, "sim_time", sched.SimTime(tick), "goods", res.Value)
			}
		}

		if cfg.Sim.MaxTicks > 0 && tick >= cfg.Sim.MaxTicks {
			loop.Stop()
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	apiServer := &observer.Server{
		Market:    eng,
		Registry:  registry,
		History:   hist,
		DB:        db,
		Hub:       hub,
		Comp:      comp,
		Narrative: stories,
		Clock:     loop,
		Addr:      cfg.Server.ListenAddr,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		loop.Stop()
	}()

	fmt.Printf("Market is open: %d goods trading.\n", len(cfg.Goods))
	fmt.Printf("API: http://localhost%s/api/v1/status\n", cfg.Server.ListenAddr)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	loop.Run()

	// ── Shutdown ──────────────────────────────────────────────────────
	if err := batcher.FlushAll(); err != nil {
		slog.Error("final flush failed", "error", err)
	}
	if err := db.SaveTransactions(eng.Transactions()); err != nil {
		slog.Error("final transaction save failed", "error", err)
	}
	if err := db.Checkpoint(loop.CurrentTick()); err != nil {
		slog.Error("final checkpoint failed", "error", err)
	}
	fmt.Println("Simulation stopped. Market state saved.")
}

// publish produces one sync payload per connected observer and queues the
// compressed frames for batching.
func publish(tick uint64, eng *market.Engine, hub *observer.Hub,
	syncMgr *statesync.Manager, comp *wire.Compressor, batcher *wire.Batcher,
	scheduler *sched.Scheduler) {

	channels := hub.Channels()
	if len(channels) == 0 {
		return
	}

	prices := eng.Prices()
	trades := tradesAt(eng, tick)

	var economy *statesync.EconomyStats
	if scheduler.ShouldExecute(tick, sched.OpEconomySync, 0) {
		economy = economyStats(eng, tick)
	}

	now := time.Now()
	for _, ch := range channels {
		payload := syncMgr.Produce(statesync.TickUpdate{
			ChannelID: ch,
			Tick:      tick,
			Timestamp: now,
			Prices:    prices,
			Trades:    trades,
			Economy:   economy,
		})
		frame, err := comp.Compress(payload)
		if err != nil {
			slog.Error("compress failed", "channel", ch, "error", err)
			continue
		}
		if err := batcher.Enqueue(ch, frame, tick); err != nil {
			slog.Error("enqueue failed", "channel", ch, "error", err)
		}
	}
}

func tradesAt(eng *market.Engine, tick uint64) []statesync.Trade {
	var trades []statesync.Trade
	for _, t := range eng.Transactions() {
		if t.Tick == tick {
			trades = append(trades, statesync.Trade{
				Tick:      t.Tick,
				GoodID:    t.GoodID,
				Quantity:  t.Quantity,
				UnitPrice: t.UnitPrice,
			})
		}
	}
	return trades
}

func economyStats(eng *market.Engine, tick uint64) *statesync.EconomyStats {
	prices := eng.Prices()
	stats := &statesync.EconomyStats{ActiveListings: len(eng.Listings())}

	var sum float64
	for id, p := range prices {
		sum += p
		if state, ok := eng.State(id); ok {
			stats.TotalWealth += p * state.Supply
		}
	}
	if len(prices) > 0 {
		stats.AvgPrice = sum / float64(len(prices))
	}

	dayStart := uint64(0)
	if tick > sched.TicksPerSimDay {
		dayStart = tick - sched.TicksPerSimDay
	}
	for _, t := range eng.Transactions() {
		if t.Tick > dayStart {
			stats.DailyVolume += t.Quantity
		}
	}
	return stats
}

// narrateDay asks for a background story about the day's trading. Best
// effort: rejection under load is fine.
func narrateDay(stories *narrative.Queue, tick uint64, records []market.PriceRecord) {
	if len(records) == 0 {
		return
	}
	prompt := fmt.Sprintf("Trading day ending at %s:", sched.SimTime(tick))
	for _, r := range records {
		prompt += fmt.Sprintf(" %s avg %.0f (high %.0f, low %.0f, volume %d).",
			r.GoodID, r.Average, r.High, r.Low, r.Volume)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	req := narrative.NewRequest(narrative.PriorityBackground, "daily_story",
		"You are the town market chronicler. Summarize the trading day in three sentences.",
		prompt, 300)
	if text, err := stories.Submit(ctx, req); err != nil {
		slog.Debug("daily story skipped", "tick", tick, "error", err)
	} else {
		slog.Info("daily story", "tick", tick, "story", text)
	}
}

// seedTrends installs a starter trend so a fresh market has visible movement.
func seedTrends(eng *market.Engine, tick uint64) {
	end := tick + 3*sched.TicksPerSimDay
	eng.AddTrend(&market.Trend{
		ID:         "harvest_festival",
		Name:       "Harvest Festival",
		GoodIDs:    []string{"grain", "ale"},
		StartTick:  tick + sched.TicksPerSimHour,
		PeakTick:   tick + sched.TicksPerSimDay,
		EndTick:    &end,
		PriceMult:  1.2,
		DemandMult: 1.5,
		AddTags: []market.Tag{
			{Name: "festival", Sentiment: 1, Strength: 0.3},
		},
	})
}

func goodDefs(goods []config.GoodDef) []market.GoodDef {
	defs := make([]market.GoodDef, 0, len(goods))
	for _, g := range goods {
		def := market.GoodDef{
			ID:          g.ID,
			Name:        g.Name,
			BasePrice:   g.BasePrice,
			BaseUtility: g.BaseUtility,
		}
		for _, tag := range g.Tags {
			def.Tags = append(def.Tags, market.Tag{Name: tag, Sentiment: 1, Strength: 0.1})
		}
		defs = append(defs, def)
	}
	return defs
}

// shortCodes assigns stable short identifiers in sorted good order.
func shortCodes(goodIDs []string) map[string]string {
	sorted := make([]string, len(goodIDs))
	copy(sorted, goodIDs)
	sort.Strings(sorted)

	codes := make(map[string]string, len(sorted))
	for i, id := range sorted {
		codes[id] = strconv.FormatInt(int64(i), 36)
	}
	return codes
}
