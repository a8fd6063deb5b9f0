package metrics

import (
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records dispatcher and credential activity. It satisfies the
// scheduler's Metrics and the credential service's RefreshRecorder.
type Metrics struct {
	Ticks           *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	Attempts        *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	Posts           *prometheus.CounterVec
	Recovered       prometheus.Counter
	Refreshes       *prometheus.CounterVec
}

// New registers the collectors with reg, normally prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postflow_scheduler_ticks_total",
			Help: "Scheduler ticks by result",
		}, []string{"result"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "postflow_scheduler_tick_duration_seconds",
			Help:    "Time spent in one scheduler tick",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postflow_publish_attempts_total",
			Help: "Publish attempts by platform and outcome",
		}, []string{"platform", "outcome"}),
		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postflow_publish_attempt_duration_seconds",
			Help:    "Duration of one publish attempt including credential resolution",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		Posts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postflow_posts_settled_total",
			Help: "Post status writes by the dispatcher, including reschedules",
		}, []string{"status"}),
		Recovered: f.NewCounter(prometheus.CounterOpts{
			Name: "postflow_posts_recovered_total",
			Help: "Posts returned to scheduled by the stale claim sweep",
		}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postflow_token_refreshes_total",
			Help: "Token refresh exchanges by platform and outcome",
		}, []string{"platform", "outcome"}),
	}
}

func (m *Metrics) ObserveTick(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Ticks.WithLabelValues(result).Inc()
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveAttempt(platform string, outcome models.AttemptOutcome, d time.Duration) {
	m.Attempts.WithLabelValues(platform, string(outcome)).Inc()
	m.AttemptDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (m *Metrics) ObservePost(status models.PostStatus) {
	m.Posts.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveRecovered(n int64) {
	m.Recovered.Add(float64(n))
}

func (m *Metrics) ObserveRefresh(platform, outcome string) {
	m.Refreshes.WithLabelValues(platform, outcome).Inc()
}
