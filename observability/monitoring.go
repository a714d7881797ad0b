// Package observability aggregates relay counters for the telemetry
// worker and the stats endpoint.
package observability

import "sync/atomic"

// Stats is a point-in-time snapshot of the relay counters.
type Stats struct {
	Relayed          uint64 `json:"relayed"`
	Delivered        uint64 `json:"delivered"`
	DeliveryFailures uint64 `json:"delivery_failures"`
	Joins            uint64 `json:"joins"`
	Leaves           uint64 `json:"leaves"`
}

// Monitor collects counters with atomics so hot broadcast paths never
// contend on a lock.
type Monitor struct {
	relayed          uint64
	delivered        uint64
	deliveryFailures uint64
	joins            uint64
	leaves           uint64
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) IncrRelayed() {
	atomic.AddUint64(&m.relayed, 1)
}

func (m *Monitor) IncrDelivered() {
	atomic.AddUint64(&m.delivered, 1)
}

func (m *Monitor) IncrDeliveryFailure() {
	atomic.AddUint64(&m.deliveryFailures, 1)
}

func (m *Monitor) IncrJoins() {
	atomic.AddUint64(&m.joins, 1)
}

func (m *Monitor) IncrLeaves() {
	atomic.AddUint64(&m.leaves, 1)
}

func (m *Monitor) Snapshot() Stats {
	return Stats{
		Relayed:          atomic.LoadUint64(&m.relayed),
		Delivered:        atomic.LoadUint64(&m.delivered),
		DeliveryFailures: atomic.LoadUint64(&m.deliveryFailures),
		Joins:            atomic.LoadUint64(&m.joins),
		Leaves:           atomic.LoadUint64(&m.leaves),
	}
}
