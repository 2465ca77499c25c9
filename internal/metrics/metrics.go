package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pagerouter/internal/db"
	"pagerouter/internal/models"
)

var (
	beaconFiresDesc = prometheus.NewDesc(
		"pagerouter_beacon_fires_total",
		"Total beacon fires recorded in the ledger by key",
		[]string{"profile", "account", "product"},
		nil,
	)

	pageOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerouter_page_evaluations_total",
		Help: "Page evaluations by profile and outcome",
	}, []string{"profile", "outcome"})

	beaconResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerouter_beacon_checks_total",
		Help: "Beacon checks by profile and result",
	}, []string{"profile", "result"})

	gateDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerouter_gate_denials_total",
		Help: "Requests turned away by the access gate",
	}, []string{"reason"})

	visits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pagerouter_visits_total",
		Help: "Visit log requests by whether a record was written",
	}, []string{"logged"})
)

// BeaconCollector is a custom Prometheus collector that reads beacon fire
// counts from the ledger on each scrape. Counts are summed over tracking ids
// to keep label cardinality bounded.
type BeaconCollector struct {
	db *db.DB
}

// Describe sends the metric descriptor to the channel.
func (c *BeaconCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- beaconFiresDesc
}

// Collect queries the ledger and emits one counter per profile/account/product.
func (c *BeaconCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.db.GetBeaconCounts(ctx)
	if err != nil {
		slog.Error("failed to collect beacon fire metrics", "error", err)
		return
	}

	type key struct{ profile, account, product string }
	sums := make(map[key]int64)
	var order []key
	for _, b := range counts {
		k := key{b.Profile, b.AccountID, b.ProductID}
		if _, ok := sums[k]; !ok {
			order = append(order, k)
		}
		sums[k] += b.Count
	}
	for _, k := range order {
		ch <- prometheus.MustNewConstMetric(
			beaconFiresDesc,
			prometheus.CounterValue,
			float64(sums[k]),
			k.profile,
			k.account,
			k.product,
		)
	}
}

// Recorder provides async ledger recording.
type Recorder struct {
	db *db.DB
}

var (
	recorder     *Recorder
	recorderOnce sync.Once
	countersOnce sync.Once
)

// Init registers the counters and, when database is not nil, the ledger
// collector and recorder. Must be called once at startup.
func Init(database *db.DB) {
	countersOnce.Do(func() {
		prometheus.MustRegister(pageOutcomes, beaconResults, gateDenials, visits)
	})
	if database == nil {
		return
	}
	recorderOnce.Do(func() {
		recorder = &Recorder{db: database}
		prometheus.MustRegister(&BeaconCollector{db: database})
	})
}

// RecordPage counts one page evaluation.
func RecordPage(profile, outcome string) {
	pageOutcomes.WithLabelValues(profile, outcome).Inc()
}

// RecordBeaconCheck counts one beacon check result.
func RecordBeaconCheck(profile, result string) {
	beaconResults.WithLabelValues(profile, result).Inc()
}

// RecordGateDenial counts one request denied by the access gate.
func RecordGateDenial(reason string) {
	gateDenials.WithLabelValues(reason).Inc()
}

// RecordVisit counts one visit log request.
func RecordVisit(logged bool) {
	label := "false"
	if logged {
		label = "true"
	}
	visits.WithLabelValues(label).Inc()
}

// RecordBeaconFire asynchronously writes a dispatched beacon to the ledger.
func RecordBeaconFire(f models.BeaconFire) {
	if recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := recorder.db.RecordBeaconFire(ctx, f); err != nil {
			slog.Error("failed to record beacon fire", "profile", f.Profile, "account", f.AccountID, "product", f.ProductID, "error", err)
		}
	}()
}
