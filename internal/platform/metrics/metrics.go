package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the identity service and the
// session controller. Counters are registered once on the default registry.
type Metrics struct {
	AnonymousSessionsCreated prometheus.Counter
	MagicLinksRequested      prometheus.Counter
	MagicLinksVerified       prometheus.Counter
	OAuthCallbacks           *prometheus.CounterVec
	IdentitiesLinked         *prometheus.CounterVec
	TokenRefreshes           prometheus.Counter
	SessionsEvicted          prometheus.Counter
	CSRFRejections           prometheus.Counter
	RequestDuration          *prometheus.HistogramVec
}

// Client holds the session controller's metrics, registered separately so a
// consumer embedding only the client does not carry service metrics.
type Client struct {
	TokenRefreshes  prometheus.Counter
	SignOuts        prometheus.Counter
	PollAttempts    prometheus.Counter
	EventsPublished prometheus.Counter
	EventsApplied   prometheus.Counter
}

// NewClient creates and registers the controller metrics. A nil registerer
// uses the default registry.
func NewClient(reg prometheus.Registerer) *Client {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Client{
		TokenRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_client_token_refreshes_total",
			Help: "Successful credential rotations performed by the controller",
		}),
		SignOuts: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_client_signouts_total",
			Help: "Sign-outs initiated on this surface",
		}),
		PollAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_client_poll_attempts_total",
			Help: "Tier-upgrade poll attempts issued",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_client_events_published_total",
			Help: "Auth events published to the broadcast bus",
		}),
		EventsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_client_events_applied_total",
			Help: "Auth events from other surfaces applied locally",
		}),
	}
}

// New creates and registers the service metrics. A nil registerer uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		AnonymousSessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_anonymous_sessions_created_total",
			Help: "Total number of anonymous sessions created",
		}),
		MagicLinksRequested: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_magic_links_requested_total",
			Help: "Total number of magic link requests accepted",
		}),
		MagicLinksVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_magic_links_verified_total",
			Help: "Total number of magic links successfully consumed",
		}),
		OAuthCallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_oauth_callbacks_total",
			Help: "OAuth callback outcomes by provider and result",
		}, []string{"provider", "result"}),
		IdentitiesLinked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_identities_linked_total",
			Help: "Identity link events by linking scenario",
		}, []string{"scenario"}),
		TokenRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_token_refreshes_total",
			Help: "Total number of successful refresh rotations",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_sessions_evicted_total",
			Help: "Sessions evicted by the per-user concurrency cap",
		}),
		CSRFRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "beacon_csrf_rejections_total",
			Help: "Mutating requests rejected by the CSRF double-submit check",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_request_duration_seconds",
			Help:    "Latency of identity service requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
