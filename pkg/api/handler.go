// Package api serves the admin and federation HTTP endpoints.
//
// The two route sets are built as separate handlers so they can be bound to
// separate listeners. Admin routes (/admin/...) drive resharding and manage
// federation trust. Federation routes (/federation/v1/...) accept signed
// record operations from trusted servers and execute them on the shard that
// owns the key.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/marmos91/dittoshard/internal/ratelimiter"
	"github.com/marmos91/dittoshard/pkg/admin"
	"github.com/marmos91/dittoshard/pkg/federation/signature"
	"github.com/marmos91/dittoshard/pkg/metrics"
	"github.com/marmos91/dittoshard/pkg/router"
)

// Deps are the components the handlers delegate to.
type Deps struct {
	Admin    *admin.Service
	Router   *router.Router
	Verifier *signature.Verifier

	// Limiter bounds requests per signer. Nil disables limiting.
	Limiter *ratelimiter.Limiter

	// Federation records rate-limited requests. Nil disables metrics.
	Federation metrics.FederationMetrics

	// AdminToken, when set, is required as "Authorization: Bearer <token>"
	// on admin routes.
	AdminToken string
}

type handler struct {
	admin      *admin.Service
	router     *router.Router
	verifier   *signature.Verifier
	limiter    *ratelimiter.Limiter
	federation metrics.FederationMetrics
	adminToken string
}

func newHandler(deps Deps) *handler {
	h := &handler{
		admin:      deps.Admin,
		router:     deps.Router,
		verifier:   deps.Verifier,
		limiter:    deps.Limiter,
		federation: deps.Federation,
		adminToken: deps.AdminToken,
	}
	if h.limiter == nil {
		h.limiter = ratelimiter.New(0, 0, ratelimiter.Options{})
	}
	if h.federation == nil {
		h.federation = metrics.NewNoopFederationMetrics()
	}
	return h
}

// NewFederationHandler builds the router for the federation listener. It
// serves /health and the signed /federation/v1 routes and nothing else.
func NewFederationHandler(deps Deps) http.Handler {
	h := newHandler(deps)

	r := chi.NewRouter()
	r.Use(withRequestID)

	r.Get("/health", h.handleHealth)

	r.Route("/federation/v1", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/records/{key}", h.handleGetRecord)
		r.Put("/records/{key}", h.handlePutRecord)
		r.Delete("/records/{key}", h.handleDeleteRecord)
	})

	return r
}

// NewAdminHandler builds the router for the admin listener. When
// deps.AdminToken is set every /admin route requires it as a bearer token.
func NewAdminHandler(deps Deps) http.Handler {
	h := newHandler(deps)

	r := chi.NewRouter()
	r.Use(withRequestID)

	r.Get("/health", h.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdminToken)

		r.Get("/topology", h.handleTopology)
		r.Get("/route/{key}", h.handleRoute)

		r.Post("/reshard", h.handleBeginResharding)
		r.Post("/reshard/complete", h.handleCompleteResharding)
		r.Post("/shards/{index}/drain", h.handleDrain)
		r.Post("/shards/{index}/migrate", h.handleMigrate)
		r.Post("/shards/{index}/retire", h.handleRetire)

		r.Get("/trust", h.handleListTrust)
		r.Post("/trust", h.handleAddTrust)
		r.Post("/trust/purge", h.handlePurge)
		r.Post("/trust/{hash}/rotate", h.handleRotateSecret)
		r.Delete("/trust/{hash}", h.handleRevoke)
	})

	return r
}
