package observability

import (
	"sync/atomic"
	"time"
)

// DeliveryStats is a lock-free per-process tally of mail deliveries, served
// by the worker's health endpoint.
type DeliveryStats struct {
	claimed      atomic.Uint64
	delivered    atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewDeliveryStats() *DeliveryStats {
	return &DeliveryStats{}
}

func (m *DeliveryStats) IncClaimed()      { m.claimed.Add(1) }
func (m *DeliveryStats) IncDelivered()    { m.delivered.Add(1) }
func (m *DeliveryStats) IncRetried()      { m.retried.Add(1) }
func (m *DeliveryStats) IncDeadLettered() { m.deadLettered.Add(1) }

func (m *DeliveryStats) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type DeliverySnapshot struct {
	Claimed         uint64        `json:"claimed"`
	Delivered       uint64        `json:"delivered"`
	Retried         uint64        `json:"retried"`
	DeadLettered    uint64        `json:"deadLettered"`
	DurationCount   uint64        `json:"durationCount"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

func (m *DeliveryStats) Snapshot() DeliverySnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return DeliverySnapshot{
		Claimed:         m.claimed.Load(),
		Delivered:       m.delivered.Load(),
		Retried:         m.retried.Load(),
		DeadLettered:    m.deadLettered.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.durationMax.Load()),
	}
}
