package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	cycleRunCounter       *prometheus.CounterVec
	matchCounter          *prometheus.CounterVec
	notifyCounter         *prometheus.CounterVec
	expiredOrdersCounter  prometheus.Counter
	amountAdjustedCounter prometheus.Counter
	lockAcquireCounter    *prometheus.CounterVec
	pendingOrdersGauge    prometheus.Gauge
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		cycleRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_cycle_runs_total",
			Help: "Monitoring cycle outcomes",
		}, []string{"trigger", "result"})

		matchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_matches_total",
			Help: "Ledger records matched to orders, by strategy",
		}, []string{"strategy"})

		notifyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "merchant_notifications_total",
			Help: "Merchant callback delivery outcomes",
		}, []string{"result"})

		expiredOrdersCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "expired_orders_deleted_total",
			Help: "Pending orders removed by the expiry sweep",
		})

		amountAdjustedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_amount_adjustments_total",
			Help: "Order creations whose settlement amount was offset to stay unique",
		})

		lockAcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_lock_acquisitions_total",
			Help: "Named scheduler lock acquisition outcomes",
		}, []string{"lock", "result"})

		pendingOrdersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pending_orders",
			Help: "Current number of orders awaiting settlement",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			cycleRunCounter,
			matchCounter,
			notifyCounter,
			expiredOrdersCounter,
			amountAdjustedCounter,
			lockAcquireCounter,
			pendingOrdersGauge,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementCycleRun(trigger, result string) {
	if cycleRunCounter == nil {
		return
	}
	cycleRunCounter.WithLabelValues(trigger, result).Inc()
}

func IncrementMatch(strategy string) {
	if matchCounter == nil {
		return
	}
	matchCounter.WithLabelValues(strategy).Inc()
}

func IncrementNotify(result string) {
	if notifyCounter == nil {
		return
	}
	notifyCounter.WithLabelValues(result).Inc()
}

func AddExpiredOrders(n int64) {
	if expiredOrdersCounter == nil || n <= 0 {
		return
	}
	expiredOrdersCounter.Add(float64(n))
}

func IncrementAmountAdjusted() {
	if amountAdjustedCounter == nil {
		return
	}
	amountAdjustedCounter.Inc()
}

func IncrementLockAcquire(lock, result string) {
	if lockAcquireCounter == nil {
		return
	}
	lockAcquireCounter.WithLabelValues(lock, result).Inc()
}

func SetPendingOrders(n int64) {
	if pendingOrdersGauge == nil {
		return
	}
	pendingOrdersGauge.Set(float64(n))
}
