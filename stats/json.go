package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// JSONStats is a Stats implementation that serves counters on an HTTP
// endpoint as JSON, mirroring the teacher's JSONStats.
type JSONStats struct {
	report counters

	counters
}

// NewJSONStats returns a JSONStats with both counter views initialized.
func NewJSONStats() *JSONStats {
	s := &JSONStats{}
	s.init()
	s.report.init()
	return s
}

// Start runs the http server, blocking until it fails.
func (s *JSONStats) Start(monitoringPort int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/counters", s.handleRequest)
	addr := fmt.Sprintf(":%d", monitoringPort)
	log.Infof("starting stats http server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("failed to start stats listener: %v", err)
	}
}

func (s *JSONStats) Snapshot() {
	s.rx.copy(&s.report.rx)
	s.tx.copy(&s.report.tx)
	s.dropped.copy(&s.report.dropped)
	s.queueDepth.copy(&s.report.queueDepth)
	s.lateCount.copy(&s.report.lateCount)
	s.report.activeClients = atomic.LoadInt64(&s.activeClients)
}

func (s *JSONStats) handleRequest(w http.ResponseWriter, r *http.Request) {
	js, err := json.Marshal(s.report.toMap())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.Errorf("failed to reply to stats request: %v", err)
	}
}

func (s *JSONStats) Reset() {
	s.reset()
}

func (s *JSONStats) IncRX(address string) { s.rx.inc(address) }
func (s *JSONStats) IncTX(address string) { s.tx.inc(address) }

func (s *JSONStats) IncDropped(reason string) { s.dropped.inc(reason) }

func (s *JSONStats) SetActiveClients(n int64) {
	atomic.StoreInt64(&s.activeClients, n)
}

func (s *JSONStats) SetQueueDepth(id int, depth int64) {
	s.queueDepth.store(strconv.Itoa(id), depth)
}

func (s *JSONStats) SetLateCount(id int, late int64) {
	s.lateCount.store(strconv.Itoa(id), late)
}
