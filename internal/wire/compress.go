// Package wire maps sync payloads into a compact transport form: short field
// keys, rounded numeric precision, short-coded identifiers, and count-only
// list fields — plus per-channel outbound batching.
package wire

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-market/internal/statesync"
)

// Rounding precision.
const (
	moneyPlaces = 2 // monetary values
	pctPlaces   = 4 // percentage-like values
)

// fallbackPrefixLen is the fixed prefix length used for identifiers missing
// from the short-code table. Deterministic, but not invertible: decompression
// returns the short form for unmapped ids.
const fallbackPrefixLen = 4

// Compressor renders payloads in the compact wire form and tracks running
// compression statistics. The statistics are guarded: Compress runs on the
// tick loop while Stats serves API reads.
type Compressor struct {
	codes   map[string]string // identifier → short code
	reverse map[string]string // short code → identifier

	statsMu sync.Mutex
	stats   Stats
}

// NewCompressor builds a compressor around a static identifier short-code
// table. Identifiers absent from the table shorten to a fixed-length prefix.
func NewCompressor(codes map[string]string) *Compressor {
	reverse := make(map[string]string, len(codes))
	for id, code := range codes {
		reverse[code] = id
	}
	return &Compressor{codes: codes, reverse: reverse}
}

// ShortID maps an identifier through the table, falling back to a
// fixed-length prefix for unmapped ids.
func (c *Compressor) ShortID(id string) string {
	if code, ok := c.codes[id]; ok {
		return code
	}
	if len(id) > fallbackPrefixLen {
		return id[:fallbackPrefixLen]
	}
	return id
}

// ExpandID reverses ShortID for table-mapped codes. Fallback prefixes come
// back unchanged.
func (c *Compressor) ExpandID(code string) string {
	if id, ok := c.reverse[code]; ok {
		return id
	}
	return code
}

// Wire shapes. Short (1–2 character) JSON keys keep frames compact.
type frame struct {
	K  string                 `json:"k"`  // kind: "f" or "d"
	C  string                 `json:"c"`  // channel
	T  uint64                 `json:"t"`  // tick
	TS int64                  `json:"ts"` // unix timestamp
	CA *float64               `json:"ca,omitempty"`
	BC *int                   `json:"bc,omitempty"`
	FI *wireFinancial         `json:"fi,omitempty"`
	P  map[string]float64     `json:"p,omitempty"`
	PC []wirePriceChange      `json:"pc,omitempty"`
	E  int                    `json:"e,omitempty"`  // event count
	CO []wireCompany          `json:"co,omitempty"` //
	CP int                    `json:"cp,omitempty"` // competition count
	R  int                    `json:"r,omitempty"`  // research count
	TR []wireTrade            `json:"tr,omitempty"`
	I  map[string]float64     `json:"i,omitempty"`
	SH []string               `json:"sh,omitempty"`
	VO map[string]float64     `json:"vo,omitempty"`
	ME int                    `json:"me,omitempty"` // market event count
	EC *wireEconomy           `json:"ec,omitempty"`
}

type wireFinancial struct {
	R float64 `json:"r"`
	X float64 `json:"x"`
	N float64 `json:"n"`
}

type wirePriceChange struct {
	G string  `json:"g"`
	O float64 `json:"o"`
	N float64 `json:"n"`
	P float64 `json:"p"`
}

type wireCompany struct {
	I string  `json:"i"`
	N string  `json:"n"`
	V float64 `json:"v"`
	B int     `json:"b"`
}

type wireTrade struct {
	T uint64  `json:"t"`
	G string  `json:"g"`
	Q int     `json:"q"`
	U float64 `json:"u"`
}

type wireEconomy struct {
	W float64 `json:"w"`
	A float64 `json:"a"`
	L int     `json:"l"`
	V int     `json:"v"`
}

// Compress renders a payload into its wire frame bytes and records the
// before/after sizes in the running statistics.
func (c *Compressor) Compress(p statesync.Payload) ([]byte, error) {
	before, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}

	f := frame{
		C:  p.ChannelID,
		T:  p.Tick,
		TS: p.Timestamp.Unix(),
	}
	if p.Kind == statesync.KindFull {
		f.K = "f"
	} else {
		f.K = "d"
	}

	if p.Cash != nil {
		v := roundMoney(*p.Cash)
		f.CA = &v
	}
	f.BC = p.BuildingCount
	if p.Financial != nil {
		f.FI = &wireFinancial{
			R: roundMoney(p.Financial.Revenue),
			X: roundMoney(p.Financial.Expenses),
			N: roundMoney(p.Financial.NetIncome),
		}
	}
	if p.Prices != nil {
		f.P = make(map[string]float64, len(p.Prices))
		for id, price := range p.Prices {
			f.P[c.ShortID(id)] = roundMoney(price)
		}
	}
	for _, pc := range p.PriceChanges {
		f.PC = append(f.PC, wirePriceChange{
			G: c.ShortID(pc.GoodID),
			O: roundMoney(pc.OldPrice),
			N: roundMoney(pc.NewPrice),
			P: roundPct(pc.ChangePct),
		})
	}

	// Downstream only needs counts for these.
	f.E = len(p.Events)
	f.CP = len(p.Competition)
	f.R = len(p.Research)
	f.ME = len(p.MarketEvents)

	for _, co := range p.Companies {
		f.CO = append(f.CO, wireCompany{
			I: c.ShortID(co.ID),
			N: co.Name,
			V: roundMoney(co.Value),
			B: co.BuildingCount,
		})
	}
	for _, tr := range p.Trades {
		f.TR = append(f.TR, wireTrade{
			T: tr.Tick,
			G: c.ShortID(tr.GoodID),
			Q: tr.Quantity,
			U: roundMoney(tr.UnitPrice),
		})
	}
	if p.Inventory != nil {
		f.I = make(map[string]float64, len(p.Inventory))
		for id, qty := range p.Inventory {
			f.I[c.ShortID(id)] = roundPct(qty)
		}
	}
	for _, s := range p.Shortages {
		f.SH = append(f.SH, c.ShortID(s))
	}
	if p.Volumes != nil {
		f.VO = make(map[string]float64, len(p.Volumes))
		for id, v := range p.Volumes {
			f.VO[c.ShortID(id)] = roundPct(v)
		}
	}
	if p.Economy != nil {
		f.EC = &wireEconomy{
			W: roundMoney(p.Economy.TotalWealth),
			A: roundMoney(p.Economy.AvgPrice),
			L: p.Economy.ActiveListings,
			V: p.Economy.DailyVolume,
		}
	}

	out, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal frame: %w", err)
	}
	c.statsMu.Lock()
	c.stats.record(len(before), len(out))
	c.statsMu.Unlock()
	return out, nil
}

// Decoded is a decompressed frame. Collapsed list fields come back as
// counts; everything else recovers at its documented rounding precision.
type Decoded struct {
	Kind      statesync.Kind
	ChannelID string
	Tick      uint64
	Timestamp time.Time

	Cash          *float64
	BuildingCount *int
	Financial     *statesync.FinancialSummary
	Prices        map[string]float64
	PriceChanges  []statesync.PriceChange
	Companies     []statesync.CompanySummary
	Trades        []statesync.Trade
	Inventory     map[string]float64
	Shortages     []string
	Volumes       map[string]float64
	Economy       *statesync.EconomyStats

	EventCount       int
	CompetitionCount int
	ResearchCount    int
	MarketEventCount int
}

// Decompress parses a wire frame back into its decoded form.
func (c *Compressor) Decompress(data []byte) (*Decoded, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wire: unmarshal frame: %w", err)
	}

	d := &Decoded{
		ChannelID:        f.C,
		Tick:             f.T,
		Timestamp:        time.Unix(f.TS, 0),
		Cash:             f.CA,
		BuildingCount:    f.BC,
		EventCount:       f.E,
		CompetitionCount: f.CP,
		ResearchCount:    f.R,
		MarketEventCount: f.ME,
	}
	if f.K == "f" {
		d.Kind = statesync.KindFull
	} else {
		d.Kind = statesync.KindDelta
	}

	if f.FI != nil {
		d.Financial = &statesync.FinancialSummary{
			Revenue:   f.FI.R,
			Expenses:  f.FI.X,
			NetIncome: f.FI.N,
		}
	}
	if f.P != nil {
		d.Prices = make(map[string]float64, len(f.P))
		for code, price := range f.P {
			d.Prices[c.ExpandID(code)] = price
		}
	}
	for _, pc := range f.PC {
		d.PriceChanges = append(d.PriceChanges, statesync.PriceChange{
			GoodID:    c.ExpandID(pc.G),
			OldPrice:  pc.O,
			NewPrice:  pc.N,
			ChangePct: pc.P,
		})
	}
	for _, co := range f.CO {
		d.Companies = append(d.Companies, statesync.CompanySummary{
			ID:            c.ExpandID(co.I),
			Name:          co.N,
			Value:         co.V,
			BuildingCount: co.B,
		})
	}
	for _, tr := range f.TR {
		d.Trades = append(d.Trades, statesync.Trade{
			Tick:      tr.T,
			GoodID:    c.ExpandID(tr.G),
			Quantity:  tr.Q,
			UnitPrice: tr.U,
		})
	}
	if f.I != nil {
		d.Inventory = make(map[string]float64, len(f.I))
		for code, qty := range f.I {
			d.Inventory[c.ExpandID(code)] = qty
		}
	}
	for _, code := range f.SH {
		d.Shortages = append(d.Shortages, c.ExpandID(code))
	}
	if f.VO != nil {
		d.Volumes = make(map[string]float64, len(f.VO))
		for code, v := range f.VO {
			d.Volumes[c.ExpandID(code)] = v
		}
	}
	if f.EC != nil {
		d.Economy = &statesync.EconomyStats{
			TotalWealth:    f.EC.W,
			AvgPrice:       f.EC.A,
			ActiveListings: f.EC.L,
			DailyVolume:    f.EC.V,
		}
	}
	return d, nil
}

// Stats returns a copy of the running compression statistics.
func (c *Compressor) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func roundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(moneyPlaces).Float64()
	return f
}

func roundPct(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(pctPlaces).Float64()
	return f
}
