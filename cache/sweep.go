package cache

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sync/atomic"

	"github.com/mnehpets/reelboard/endpoint"
	"github.com/rs/zerolog"
)

// DefaultSweepProbability is the fraction of requests that trigger a sweep.
const DefaultSweepProbability = 0.1

// Sweeper is a table that can drop its expired entries.
type Sweeper interface {
	Name() string
	Sweep() int
}

// SweepProcessor opportunistically sweeps a set of tables. On each request it
// rolls against Probability and, on a hit, sweeps in a new goroutine. The
// request never waits for the sweep, and at most one sweep runs at a time.
type SweepProcessor struct {
	Probability float64
	tables      []Sweeper
	running     atomic.Bool
	// roll returns a value in [0, 1).
	roll func() float64
	// done, if set, is called after each sweep finishes.
	done func(removed map[string]int)
}

// NewSweepProcessor returns a processor sweeping tables with the given
// probability. A non-positive probability uses DefaultSweepProbability.
func NewSweepProcessor(probability float64, tables ...Sweeper) *SweepProcessor {
	if probability <= 0 {
		probability = DefaultSweepProbability
	}
	return &SweepProcessor{
		Probability: probability,
		tables:      tables,
		roll:        rand.Float64,
	}
}

// Process implements endpoint.Processor.
func (p *SweepProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	p.Maybe(r.Context())
	return next(w, r)
}

// Maybe starts a sweep with probability p.Probability and reports whether one
// was started.
func (p *SweepProcessor) Maybe(ctx context.Context) bool {
	if len(p.tables) == 0 || p.roll() >= p.Probability {
		return false
	}
	if !p.running.CompareAndSwap(false, true) {
		return false
	}
	// The request context is cancelled when the response completes; keep
	// only its logger.
	logger := zerolog.Ctx(ctx).With().Logger()
	go func() {
		defer p.running.Store(false)
		removed := p.sweep()
		total := 0
		ev := logger.Debug()
		for name, n := range removed {
			ev = ev.Int(name, n)
			total += n
		}
		ev.Int("total", total).Msg("cache sweep")
		if p.done != nil {
			p.done(removed)
		}
	}()
	return true
}

func (p *SweepProcessor) sweep() map[string]int {
	removed := make(map[string]int, len(p.tables))
	for _, t := range p.tables {
		removed[t.Name()] = t.Sweep()
	}
	return removed
}

var _ endpoint.Processor = (*SweepProcessor)(nil)
