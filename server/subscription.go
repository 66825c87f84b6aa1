package server

import "sync"

// Subscriber identifies one destination for a parameter's value
// notifications. Notify sends over the transport (TCP connection or UDP
// socket) the subscribe request arrived on.
type Subscriber struct {
	Addr   string // "host:port": the requester's IP and the reply-port it named; the set's key
	Notify func(address string, args ...interface{}) error
}

// subscriberSet is a mutex-guarded set of Subscribers keyed by Addr,
// the same store-guarded-by-one-mutex shape the teacher's syncMapSub
// uses for per-message-type subscriber lists.
type subscriberSet struct {
	mu sync.Mutex
	m  map[string]Subscriber
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{m: make(map[string]Subscriber)}
}

// Add subscribes addr, replacing any existing registration under the
// same key. Idempotent: subscribing twice leaves one entry.
func (s *subscriberSet) Add(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sub.Addr] = sub
}

// Remove unsubscribes addr. Idempotent: removing an absent key is a
// no-op.
func (s *subscriberSet) Remove(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, addr)
}

// Each calls fn for every current subscriber, taking a snapshot under
// lock first so fn can perform network I/O without holding the mutex.
func (s *subscriberSet) Each(fn func(Subscriber)) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.m))
	for _, sub := range s.m {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		fn(sub)
	}
}

// Len reports the current subscriber count.
func (s *subscriberSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Parameter names a subscribable session attribute, per spec.md §4.5
// ("seven subscription lists (per parameter plus meter)").
type Parameter string

// Subscribable parameters.
const (
	ParamVolume   Parameter = "volume"
	ParamMute     Parameter = "mute"
	ParamSolo     Parameter = "solo"
	ParamDelay    Parameter = "delay"
	ParamPosition Parameter = "position"
	ParamType     Parameter = "type"
	ParamMeter    Parameter = "meter"
)

// allParameters is the expansion of the "all" pseudo-parameter accepted
// by /sam/subscribe and /sam/unsubscribe.
var allParameters = []Parameter{ParamVolume, ParamMute, ParamSolo, ParamDelay, ParamPosition, ParamType, ParamMeter}

// SubscriptionTable holds one subscriberSet per parameter for a single
// session, mirroring the teacher's syncMapCli->syncMapSub nesting but
// flattened to a fixed-size map since SAM's parameter set (unlike PTP's
// per-message-type set) is small and known up front.
type SubscriptionTable struct {
	sets map[Parameter]*subscriberSet
}

// NewSubscriptionTable allocates an empty subscriber set for every
// parameter.
func NewSubscriptionTable() *SubscriptionTable {
	t := &SubscriptionTable{sets: make(map[Parameter]*subscriberSet, len(allParameters))}
	for _, p := range allParameters {
		t.sets[p] = newSubscriberSet()
	}
	return t
}

// Subscribe adds sub to param's subscriber set, or to every parameter's
// set when param == "all".
func (t *SubscriptionTable) Subscribe(param Parameter, sub Subscriber) {
	if param == "all" {
		for _, p := range allParameters {
			t.sets[p].Add(sub)
		}
		return
	}
	if set, ok := t.sets[param]; ok {
		set.Add(sub)
	}
}

// Unsubscribe removes addr from param's subscriber set, or from every
// parameter's set when param == "all".
func (t *SubscriptionTable) Unsubscribe(param Parameter, addr string) {
	if param == "all" {
		for _, p := range allParameters {
			t.sets[p].Remove(addr)
		}
		return
	}
	if set, ok := t.sets[param]; ok {
		set.Remove(addr)
	}
}

// Notify fans a value out to every subscriber of param.
func (t *SubscriptionTable) Notify(param Parameter, address string, args ...interface{}) {
	set, ok := t.sets[param]
	if !ok {
		return
	}
	set.Each(func(sub Subscriber) {
		_ = sub.Notify(address, args...)
	})
}
