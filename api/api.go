// Package api exposes a recipient table over HTTP. Reads are open to any
// caller. Mutating endpoints require a bearer token issued by package token and
// are disabled entirely when the API has no token secret.
package api

import (
	"net/http"
	"time"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/model"
	"github.com/dekarrin/rowsync/store"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PathPrefix is the path that all recipient endpoints are mounted under.
const PathPrefix = "/api/v1"

// Options configures an API.
type Options struct {
	// Logger receives a line for every request. If nil, nothing is logged.
	Logger rowsync.Logger

	// TokenSecret is the secret bearer tokens are validated against. If it is
	// empty, all mutating endpoints respond with 403.
	TokenSecret []byte

	// UnauthDelay is how long to wait before responding to a request that
	// failed authorization.
	UnauthDelay time.Duration

	// BatchSize is the enumeration batch size used when listing recipients.
	BatchSize int

	// Gatherer is served at /metrics. If nil, prometheus.DefaultGatherer is
	// used.
	Gatherer prometheus.Gatherer
}

// API serves the recipients in a single table of a Database.
type API struct {
	db          *db.Database
	recipients  *store.Table[*model.Recipient]
	log         rowsync.Logger
	secret      []byte
	unauthDelay time.Duration
	batchSize   int
	gatherer    prometheus.Gatherer
}

// New creates an API that serves the recipients in t. t must already be
// registered with d.
func New(d *db.Database, t *store.Table[*model.Recipient], opts Options) *API {
	a := &API{
		db:          d,
		recipients:  t,
		log:         rowsync.LoggerOrNoOp(opts.Logger),
		secret:      opts.TokenSecret,
		unauthDelay: opts.UnauthDelay,
		batchSize:   opts.BatchSize,
		gatherer:    opts.Gatherer,
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}
	return a
}

// Router returns a router with every endpoint of the API routed on it.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.dontPanic)

	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route(PathPrefix+"/recipients", func(r chi.Router) {
		r.Get("/", a.endpoint(a.epList))
		r.Get("/count", a.endpoint(a.epCount))
		r.Get("/{id}", a.endpoint(a.epGet))

		r.Group(func(r chi.Router) {
			r.Use(a.requireToken)

			r.Post("/", a.endpoint(a.epCreate))
			r.Delete("/{id}", a.endpoint(a.epDelete))
			r.Post("/{id}/devices", a.endpoint(a.epAddDevices))
			r.Delete("/{id}/devices/{device}", a.endpoint(a.epRemoveDevice))
		})
	})

	return r
}

type endpointFunc func(req *http.Request) Result

func (a *API) endpoint(ep endpointFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r := ep(req)
		r.WriteResponse(w)
		r.Log(a.log, req)
	}
}
