package calendar

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/exchange-calendar-service/internal/cache"
	"github.com/dgnsrekt/exchange-calendar-service/internal/metrics"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

// FactsCache holds one VenueFacts snapshot per venue. Snapshots are built
// from the provider on first use and replaced wholesale by Refresh.
type FactsCache struct {
	provider provider.Provider
	snaps    *cache.LFU[string, *VenueFacts]
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewFactsCache returns a cache holding up to capacity venues. Size it to
// the number of configured venues so that it never evicts in steady state.
func NewFactsCache(p provider.Provider, capacity int, m *metrics.Metrics, logger *zap.Logger) *FactsCache {
	return &FactsCache{
		provider: p,
		snaps:    cache.NewLFU[string, *VenueFacts](capacity, m.Cache("facts")),
		metrics:  m,
		logger:   logger,
	}
}

// Get returns the snapshot for venue, building it if needed.
func (c *FactsCache) Get(venue string) (*VenueFacts, error) {
	return c.snaps.Get(venue, func() (*VenueFacts, error) {
		return c.build(venue)
	})
}

// Refresh rebuilds the snapshot for venue from the provider and swaps it in.
// Readers see either the previous snapshot or the new one. On error the
// previous snapshot is dropped so the next Get retries the provider.
func (c *FactsCache) Refresh(venue string) error {
	f, err := c.build(venue)
	c.snaps.Remove(venue)
	if err != nil {
		return err
	}
	c.snaps.Set(venue, f)
	c.metrics.RecordRefresh(venue)
	return nil
}

func (c *FactsCache) build(venue string) (*VenueFacts, error) {
	started := time.Now()
	defer c.metrics.ObserveCompute("venue_facts", started)

	cal, err := c.provider.Calendar(venue)
	if err != nil {
		if errors.Is(err, provider.ErrUnknownVenue) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
		}
		return nil, fmt.Errorf("loading facts for %s: %w", venue, err)
	}

	f, err := newVenueFacts(cal)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("built venue facts",
		zap.String("venue", venue),
		zap.String("timezone", f.Timezone),
		zap.Int("holidays", len(f.Holidays)+len(f.AdhocHolidays)),
		zap.Duration("took", time.Since(started)),
	)
	return f, nil
}
