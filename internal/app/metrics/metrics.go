package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/prizepool/internal/app/domain/pool"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prizepool",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizepool",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "prizepool",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	balanceChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizepool",
			Subsystem: "ledger",
			Name:      "balance_changes_total",
			Help:      "Deposits and withdrawals committed.",
		},
		[]string{"kind"},
	)

	balanceVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizepool",
			Subsystem: "ledger",
			Name:      "volume_units_total",
			Help:      "Value moved by deposits and withdrawals, in whole units.",
		},
		[]string{"kind"},
	)

	totalDeposited = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prizepool",
			Subsystem: "ledger",
			Name:      "deposited_units",
			Help:      "Sum of all participant balances, in whole units.",
		},
	)

	participants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prizepool",
			Subsystem: "ledger",
			Name:      "participants",
			Help:      "Number of participants with a positive balance.",
		},
	)

	jackpot = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prizepool",
			Subsystem: "round",
			Name:      "jackpot_units",
			Help:      "Accumulated jackpot, in whole units.",
		},
	)

	currentRound = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prizepool",
			Subsystem: "round",
			Name:      "current_id",
			Help:      "Identifier of the open round.",
		},
	)

	roundsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prizepool",
			Subsystem: "round",
			Name:      "closed_total",
			Help:      "Rounds closed.",
		},
	)

	rewardsPaid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizepool",
			Subsystem: "round",
			Name:      "paid_units_total",
			Help:      "Value paid out by round closes, in whole units.",
		},
		[]string{"kind"},
	)

	jackpotsWon = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prizepool",
			Subsystem: "round",
			Name:      "jackpots_won_total",
			Help:      "Jackpots paid out.",
		},
	)

	closeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizepool",
			Subsystem: "keeper",
			Name:      "close_attempts_total",
			Help:      "Scheduled round close attempts by result.",
		},
		[]string{"result"},
	)

	closeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "prizepool",
			Subsystem: "keeper",
			Name:      "close_duration_seconds",
			Help:      "Duration of scheduled round close attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		balanceChanges,
		balanceVolume,
		totalDeposited,
		participants,
		jackpot,
		currentRound,
		roundsClosed,
		rewardsPaid,
		jackpotsWon,
		closeAttempts,
		closeDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCloseAttempt records one scheduled close. result is closed, not_over, seed_not_ready
// or error.
func RecordCloseAttempt(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	closeAttempts.WithLabelValues(result).Inc()
	closeDuration.Observe(duration.Seconds())
}

// RecordPoolState refreshes the pool gauges.
func RecordPoolState(info pool.RoundInfo) {
	totalDeposited.Set(units(info.TotalDeposited))
	participants.Set(float64(info.Participants))
	jackpot.Set(units(info.Jackpot))
	currentRound.Set(float64(info.RoundID))
}

// Sink is an event sink that feeds the pool metrics. Info, when set, is read after each
// event to refresh the gauges.
type Sink struct {
	Info func() pool.RoundInfo
}

func (s Sink) Publish(_ context.Context, ev pool.Event) error {
	switch ev.Kind {
	case pool.EventDeposited, pool.EventWithdrawn:
		balanceChanges.WithLabelValues(string(ev.Kind)).Inc()
		balanceVolume.WithLabelValues(string(ev.Kind)).Add(units(ev.Amount))
	case pool.EventRewarded:
		roundsClosed.Inc()
		if o := ev.Outcome; o != nil {
			prizes := new(uint256.Int)
			for _, p := range o.Prizes {
				prizes.Add(prizes, p)
			}
			rewardsPaid.WithLabelValues("prizes").Add(units(prizes))
			rewardsPaid.WithLabelValues("fee").Add(units(o.Fee))
			rewardsPaid.WithLabelValues("executor").Add(units(o.ExecutorReward))
		}
	case pool.EventJackpot:
		jackpotsWon.Inc()
		rewardsPaid.WithLabelValues("jackpot").Add(units(ev.Amount))
	}
	if s.Info != nil {
		RecordPoolState(s.Info())
	}
	return nil
}

func units(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v.ToBig(), -pool.Decimals).InexactFloat64()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath folds path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) == 1 {
		return "/" + parts[0]
	}
	switch {
	case len(parts) == 2:
		return "/v1/" + parts[1]
	case parts[1] == "participants":
		return "/v1/participants/:address"
	case parts[1] == "rounds" && parts[2] == "close":
		return "/v1/rounds/close"
	case parts[1] == "rounds":
		return "/v1/rounds/:id"
	}
	return "/v1/" + parts[1]
}
