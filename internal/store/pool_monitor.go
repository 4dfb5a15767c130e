package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoryhub/internal/logging"
)

// PoolMonitor samples pool utilization on a fixed cadence and logs a resize
// proposal when sustained usage exceeds 80% or falls below 30% of max,
// mirroring the original connection_pool.py sampler (§4.2, SPEC_FULL §11).
type PoolMonitor struct {
	pool     *pgxpool.Pool
	every    time.Duration
	window   time.Duration
	samples  []float64
}

// NewPoolMonitor constructs a monitor for pool. every and window default to
// 30s / 1h when zero, matching the spec's sampling cadence.
func NewPoolMonitor(pool *pgxpool.Pool, every, window time.Duration) *PoolMonitor {
	if every <= 0 {
		every = 30 * time.Second
	}
	if window <= 0 {
		window = time.Hour
	}
	return &PoolMonitor{pool: pool, every: every, window: window}
}

// Run samples until ctx is cancelled. Intended to run as a background
// goroutine owned by the process lifetime, not the task queue.
func (m *PoolMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.every)
	defer ticker.Stop()
	maxSamples := int(m.window / m.every)
	if maxSamples < 1 {
		maxSamples = 1
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(maxSamples)
		}
	}
}

func (m *PoolMonitor) sample(maxSamples int) {
	stat := m.pool.Stat()
	max := float64(stat.MaxConns())
	if max == 0 {
		return
	}
	used := float64(stat.AcquiredConns())
	usage := used / max
	m.samples = append(m.samples, usage)
	if len(m.samples) > maxSamples {
		m.samples = m.samples[len(m.samples)-maxSamples:]
	}
	avg := average(m.samples)
	log := logging.FromContext(context.Background())
	if avg > 0.8 {
		log.Warn().Float64("avg_usage", avg).Msg("store pool sustained usage above 80%; consider raising max_conns")
	} else if avg < 0.3 && len(m.samples) == maxSamples {
		log.Info().Float64("avg_usage", avg).Msg("store pool sustained usage below 30%; consider lowering max_conns")
	}
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
