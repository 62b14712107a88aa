package engine

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Reasons a plan cache disables itself.
const (
	DisableLowHitRate       = "low_hit_rate"
	DisableGenerationThrash = "generation_thrash"
)

// PlanCacheConfig holds the plan cache thresholds.
type PlanCacheConfig struct {
	// Capacity is the maximum number of cached plans.
	Capacity int

	// FloorRatio is the hit rate below which the cache disables itself.
	FloorRatio float64

	// Window is the number of recent lookups the hit rate is computed over.
	Window int

	// MinSamples is the number of lookups needed before the floor applies.
	MinSamples int

	// Cooldown is the number of bypassed transactions before re-enabling.
	Cooldown int

	// ThrashMax is the number of invalidations tolerated within ThrashWindow.
	ThrashMax    int
	ThrashWindow time.Duration
}

// DefaultPlanCacheConfig returns the thresholds used when none are configured.
func DefaultPlanCacheConfig() PlanCacheConfig {
	return PlanCacheConfig{
		Capacity:     128,
		FloorRatio:   0.2,
		Window:       64,
		MinSamples:   32,
		Cooldown:     64,
		ThrashMax:    8,
		ThrashWindow: 10 * time.Second,
	}
}

// PlanCache maps dirty-set signatures to the step ids they make relevant.
//
// The cache belongs to one executor and is not safe for concurrent use.
// It watches its own usefulness: a low recent hit rate or repeated
// generation invalidations switch it off for a while.
type PlanCache struct {
	cfg   PlanCacheConfig
	clock Clock
	plans *lru.Cache[string, []int]

	hits      int64
	misses    int64
	evictions int64

	// recent is a ring of the last Window lookups, true for a hit.
	recent    []bool
	recentPos int
	recentLen int

	disabled string
	cooldown int

	invalidations []time.Time
}

// NewPlanCache creates a cache with the given thresholds.
func NewPlanCache(cfg PlanCacheConfig, clock Clock) (*PlanCache, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("plan cache: window must be positive, got %d", cfg.Window)
	}
	plans, err := lru.New[string, []int](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("plan cache: %w", err)
	}
	return &PlanCache{
		cfg:    cfg,
		clock:  clock,
		plans:  plans,
		recent: make([]bool, cfg.Window),
	}, nil
}

// Signature returns the cache key for a dirty set.
func (c *PlanCache) Signature(d DirtySet) string {
	return ir.PlanSignature(d.IDs())
}

// Lookup returns the cached plan for sig. Every lookup counts toward the
// hit-rate window.
func (c *PlanCache) Lookup(sig string) ([]int, bool) {
	steps, ok := c.plans.Get(sig)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.record(ok)
	return steps, ok
}

// Insert stores a plan.
func (c *PlanCache) Insert(sig string, steps []int) {
	if c.plans.Add(sig, steps) {
		c.evictions++
	}
}

// InvalidateGeneration drops every plan. Too many invalidations inside the
// thrash window disable the cache.
func (c *PlanCache) InvalidateGeneration() {
	c.plans.Purge()
	c.resetWindow()

	now := c.clock.Now()
	c.invalidations = append(c.pruneInvalidations(now), now)
	if len(c.invalidations) > c.cfg.ThrashMax {
		c.disabled = DisableGenerationThrash
	}
}

// Disabled reports whether lookups should be bypassed, and why.
func (c *PlanCache) Disabled() (bool, string) {
	if c.disabled == DisableGenerationThrash {
		c.invalidations = c.pruneInvalidations(c.clock.Now())
		if len(c.invalidations) <= c.cfg.ThrashMax {
			c.disabled = ""
		}
	}
	return c.disabled != "", c.disabled
}

// NoteBypass is called once per transaction that skipped the cache. After
// Cooldown bypasses a low-hit-rate disable is lifted.
func (c *PlanCache) NoteBypass() {
	if c.disabled != DisableLowHitRate {
		return
	}
	c.cooldown--
	if c.cooldown <= 0 {
		c.disabled = ""
		c.resetWindow()
	}
}

// Stats returns the counters. Hit is left for the caller to fill in.
func (c *PlanCache) Stats() ir.CacheStats {
	disabled, reason := c.Disabled()
	return ir.CacheStats{
		Capacity:      c.cfg.Capacity,
		Size:          c.plans.Len(),
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Disabled:      disabled,
		DisableReason: reason,
	}
}

// HitRate returns the hit rate over the recent window.
func (c *PlanCache) HitRate() float64 {
	if c.recentLen == 0 {
		return 0
	}
	hits := 0
	for i := 0; i < c.recentLen; i++ {
		if c.recent[i] {
			hits++
		}
	}
	return float64(hits) / float64(c.recentLen)
}

func (c *PlanCache) record(hit bool) {
	c.recent[c.recentPos] = hit
	c.recentPos = (c.recentPos + 1) % len(c.recent)
	if c.recentLen < len(c.recent) {
		c.recentLen++
	}
	if c.disabled == "" && c.recentLen >= c.cfg.MinSamples && c.HitRate() < c.cfg.FloorRatio {
		c.disabled = DisableLowHitRate
		c.cooldown = c.cfg.Cooldown
	}
}

func (c *PlanCache) resetWindow() {
	clear(c.recent)
	c.recentPos = 0
	c.recentLen = 0
}

func (c *PlanCache) pruneInvalidations(now time.Time) []time.Time {
	kept := c.invalidations[:0]
	for _, t := range c.invalidations {
		if now.Sub(t) < c.cfg.ThrashWindow {
			kept = append(kept, t)
		}
	}
	return kept
}
