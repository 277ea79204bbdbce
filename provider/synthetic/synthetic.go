/*
Package synthetic implements a deterministic DataProvider for development
and testing.

PURPOSE:
  Generates price bars from a seeded random walk keyed by entity and date,
  so the same request always returns the same rows. syncd uses it as the
  default provider so the engine runs without any real upstream; tests use
  it to exercise the full fetch path.

CLASSIFICATION:
  Errors are classified structurally the way a real adapter should:
  unknown entities yield a PermanentError, injected throttling yields a
  TransientError.
*/
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sync-engine/reconcile"
)

// Provider generates deterministic daily bars for a fixed entity universe.
type Provider struct {
	// Known is the entity universe; fetches for other entities fail
	// permanently, like a delisted symbol upstream.
	Known map[reconcile.EntityID]bool

	// Latency simulates a remote call. Zero disables.
	Latency time.Duration

	// FailEveryN injects a transient error on every Nth fetch (rate-limit
	// simulation). Zero disables.
	FailEveryN int

	// Revision stamped on generated rows.
	Revision int64

	mu    sync.Mutex
	calls int
}

func New(entities ...reconcile.EntityID) *Provider {
	known := make(map[reconcile.EntityID]bool, len(entities))
	for _, id := range entities {
		known[id] = true
	}
	return &Provider{Known: known}
}

// Fetch generates one bar per weekday in [start, end].
func (p *Provider) Fetch(ctx context.Context, entity reconcile.EntityID, start, end reconcile.Date) ([]reconcile.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, reconcile.TransientError(entity, err)
	}

	p.mu.Lock()
	p.calls++
	throttled := p.FailEveryN > 0 && p.calls%p.FailEveryN == 0
	p.mu.Unlock()

	if throttled {
		return nil, reconcile.TransientError(entity, fmt.Errorf("synthetic rate limit"))
	}
	if len(p.Known) > 0 && !p.Known[entity] {
		return nil, reconcile.PermanentError(entity, fmt.Errorf("unknown entity %q", entity))
	}

	if p.Latency > 0 {
		timer := time.NewTimer(p.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, reconcile.TransientError(entity, ctx.Err())
		}
	}

	var rows []reconcile.Row
	price := basePrice(entity)
	for d := start; d.BeforeOrEqual(end); d = d.AddDays(1) {
		wd := d.Time.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			continue
		}
		rows = append(rows, p.bar(entity, d, price))
	}
	return rows, nil
}

// bar produces the deterministic bar for entity+date.
func (p *Provider) bar(entity reconcile.EntityID, d reconcile.Date, base decimal.Decimal) reconcile.Row {
	rng := rand.New(rand.NewSource(seed(entity, d)))
	drift := decimal.NewFromFloat(rng.Float64()*2 - 1) // [-1, 1)

	open := base.Add(drift)
	spread := decimal.NewFromFloat(rng.Float64())
	return reconcile.Row{
		Date:     d,
		Open:     open.Round(4),
		High:     open.Add(spread).Round(4),
		Low:      open.Sub(spread).Round(4),
		Close:    open.Add(drift.Div(decimal.NewFromInt(2))).Round(4),
		Volume:   int64(rng.Intn(1_000_000) + 1000),
		Revision: p.Revision,
	}
}

func basePrice(entity reconcile.EntityID) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(entity))
	return decimal.NewFromInt(int64(h.Sum32()%490 + 10))
}

func seed(entity reconcile.EntityID, d reconcile.Date) int64 {
	h := fnv.New64a()
	h.Write([]byte(entity))
	h.Write([]byte(d.String()))
	return int64(h.Sum64())
}
