package metrics

import "github.com/prometheus/client_golang/prometheus"

// Finish reasons used as the reason label of GamesFinished.
const (
	ReasonCompleted    = "completed"
	ReasonGraceExpired = "grace_expired"
	ReasonLateAnswer   = "late_answer"
)

var (
	GamesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairquiz_games_created_total",
		Help: "Games opened by a first player",
	})
	GamesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairquiz_games_started_total",
		Help: "Games that received a second player",
	})
	GamesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairquiz_games_finished_total",
			Help: "Games moved to the finished state",
		},
		[]string{"reason"},
	)
	Answers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairquiz_answers_total",
			Help: "Answers recorded, by status",
		},
		[]string{"status"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairquiz_http_requests_total",
			Help: "HTTP requests served, by route and status code",
		},
		[]string{"method", "route", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairquiz_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(GamesCreated)
	prometheus.MustRegister(GamesStarted)
	prometheus.MustRegister(GamesFinished)
	prometheus.MustRegister(Answers)
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPDuration)
}
