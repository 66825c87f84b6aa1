package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter scrapes samd's own JSON counters endpoint on an
// interval and republishes them as Prometheus gauges, mirroring the
// teacher's PrometheusExporter (which scrapes sptp's JSON endpoint the
// same way rather than instrumenting the hot path directly).
type PrometheusExporter struct {
	registry   *prometheus.Registry
	listenPort int
	scrapePort int
	interval   time.Duration
}

// NewPrometheusExporter creates an exporter that listens on listenPort
// and scrapes samd's JSON stats endpoint on scrapePort every interval.
func NewPrometheusExporter(listenPort, scrapePort int, interval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		listenPort: listenPort,
		scrapePort: scrapePort,
		interval:   interval,
	}
}

// Start runs the scrape loop in the background and blocks serving
// /metrics.
func (e *PrometheusExporter) Start() {
	go func() {
		for {
			e.scrapeMetrics()
			time.Sleep(e.interval)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", e.listenPort), mux))
}

func (e *PrometheusExporter) scrapeMetrics() {
	counters, err := FetchCounters(fmt.Sprintf("http://localhost:%d", e.scrapePort))
	if err != nil {
		log.Errorf("failed to fetch samd counters: %v", err)
		return
	}
	for key, val := range counters {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: flattenKey(key), Help: key})
		if err := e.registry.Register(g); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if errors.As(err, are) {
				g = are.ExistingCollector.(prometheus.Gauge)
			} else {
				log.Errorf("failed to register metric %s: %v", key, err)
				continue
			}
		}
		g.Set(float64(val))
	}
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}

// FetchCounters fetches the JSON counters map exposed by JSONStats at
// baseURL (e.g. "http://localhost:9110").
func FetchCounters(baseURL string) (map[string]int64, error) {
	counters := make(map[string]int64)
	c := http.Client{Timeout: 2 * time.Second}

	resp, err := c.Get(baseURL + "/counters")
	if err != nil {
		return counters, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return counters, err
	}
	err = json.Unmarshal(b, &counters)
	return counters, err
}
