// Package stats implements statistics collection and reporting for samd,
// counting control-protocol traffic by address and tracking the gauges
// an operator needs to see the audio thread is healthy (active clients,
// queue depth, dropped/late packets).
package stats

import (
	"fmt"
	"sync"
)

// Stats is a metric collection interface, implemented by JSONStats (an
// HTTP /counters endpoint) and wrapped by a PrometheusExporter that
// scrapes it.
type Stats interface {
	// Start runs a passive reporter on monitoringPort.
	Start(monitoringPort int)

	// Snapshot copies the live counters into the report view so they can
	// be read out atomically.
	Snapshot()

	// Reset sets every counter back to 0.
	Reset()

	// IncRX counts one inbound control message at address.
	IncRX(address string)

	// IncTX counts one outbound control message at address.
	IncTX(address string)

	// IncDropped counts one dropped packet, keyed by the reason (queue
	// full, malformed, late).
	IncDropped(reason string)

	// SetActiveClients records the current registered-client count.
	SetActiveClients(n int64)

	// SetQueueDepth records session id's current playout queue length.
	SetQueueDepth(id int, depth int64)

	// SetLateCount records session id's consecutive-late-arrival count.
	SetLateCount(id int, late int64)
}

// syncMapInt64 is a mutex-guarded counter map, keyed by an arbitrary
// string (control address, drop reason) or a small int (session id).
type syncMapInt64 struct {
	sync.Mutex
	m map[string]int64
}

func (s *syncMapInt64) init() {
	s.m = make(map[string]int64)
}

func (s *syncMapInt64) keys() []string {
	s.Lock()
	defer s.Unlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

func (s *syncMapInt64) load(key string) int64 {
	s.Lock()
	defer s.Unlock()
	return s.m[key]
}

func (s *syncMapInt64) inc(key string) {
	s.Lock()
	s.m[key]++
	s.Unlock()
}

func (s *syncMapInt64) store(key string, value int64) {
	s.Lock()
	s.m[key] = value
	s.Unlock()
}

func (s *syncMapInt64) copy(dst *syncMapInt64) {
	for _, k := range s.keys() {
		dst.store(k, s.load(k))
	}
}

func (s *syncMapInt64) reset() {
	s.Lock()
	for k := range s.m {
		s.m[k] = 0
	}
	s.Unlock()
}

// counters holds every SAM counter group, shared by the live view and
// the snapshotted report view.
type counters struct {
	rx         syncMapInt64
	tx         syncMapInt64
	dropped    syncMapInt64
	queueDepth syncMapInt64
	lateCount  syncMapInt64

	activeClients int64
}

func (c *counters) init() {
	c.rx.init()
	c.tx.init()
	c.dropped.init()
	c.queueDepth.init()
	c.lateCount.init()
}

func (c *counters) reset() {
	c.rx.reset()
	c.tx.reset()
	c.dropped.reset()
	c.queueDepth.reset()
	c.lateCount.reset()
	c.activeClients = 0
}

// toMap flattens counters into a string-keyed export, the shape both the
// JSON endpoint and the Prometheus exporter work from.
func (c *counters) toMap() map[string]int64 {
	res := make(map[string]int64)
	for _, a := range c.rx.keys() {
		res[fmt.Sprintf("rx.%s", a)] = c.rx.load(a)
	}
	for _, a := range c.tx.keys() {
		res[fmt.Sprintf("tx.%s", a)] = c.tx.load(a)
	}
	for _, r := range c.dropped.keys() {
		res[fmt.Sprintf("dropped.%s", r)] = c.dropped.load(r)
	}
	for _, id := range c.queueDepth.keys() {
		res[fmt.Sprintf("session.%s.queue_depth", id)] = c.queueDepth.load(id)
	}
	for _, id := range c.lateCount.keys() {
		res[fmt.Sprintf("session.%s.late_count", id)] = c.lateCount.load(id)
	}
	res["active_clients"] = c.activeClients
	return res
}
