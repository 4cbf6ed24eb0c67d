package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marmos91/dittoshard/pkg/federation/trust"
	"github.com/marmos91/dittoshard/pkg/migrate"
	"github.com/marmos91/dittoshard/pkg/router"
	"github.com/marmos91/dittoshard/pkg/shard"
)

// maxAdminBody bounds admin request bodies.
const maxAdminBody = 1 << 20

// ShardView describes one shard of a generation.
type ShardView struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	DSN          string `json:"dsn"`
	State        string `json:"state"`
	Available    bool   `json:"available"`
	Remaining    uint64 `json:"remaining,omitempty"`
	Checkpointed bool   `json:"checkpointed,omitempty"`
}

// GenerationView describes one generation of the shard map.
type GenerationView struct {
	Generation uint64      `json:"generation"`
	Shards     []ShardView `json:"shards"`
}

// TopologyView is the body of GET /admin/topology.
type TopologyView struct {
	OperationID string          `json:"operation_id,omitempty"`
	Resharding  bool            `json:"resharding"`
	Current     GenerationView  `json:"current"`
	Previous    *GenerationView `json:"previous,omitempty"`
}

func generationView(m *shard.Map) GenerationView {
	v := GenerationView{Generation: m.Generation, Shards: make([]ShardView, len(m.Shards))}
	for i, s := range m.Shards {
		v.Shards[i] = ShardView{
			Index:        s.Index,
			Name:         s.Handle.Name,
			DSN:          s.Handle.DSN,
			State:        s.State.String(),
			Available:    s.Handle.Available(),
			Remaining:    s.Remaining,
			Checkpointed: s.Checkpointed,
		}
	}
	return v
}

// RouteView describes where a key is served.
type RouteView struct {
	Key        uint64     `json:"key"`
	Index      int        `json:"index"`
	Generation uint64     `json:"generation"`
	Shard      string     `json:"shard"`
	Previous   bool       `json:"previous,omitempty"`
	Fallback   *RouteView `json:"fallback,omitempty"`
}

func routeView(rt *router.Route) *RouteView {
	if rt == nil {
		return nil
	}
	return &RouteView{
		Key:        uint64(rt.Key),
		Index:      rt.Index,
		Generation: rt.Generation,
		Shard:      rt.Handle.Name,
		Previous:   rt.Previous,
		Fallback:   routeView(rt.Fallback),
	}
}

// MigrationView is the body of POST /admin/shards/{index}/migrate.
type MigrationView struct {
	Index      int    `json:"index"`
	Generation uint64 `json:"generation"`
	Scanned    int    `json:"scanned"`
	Moved      int    `json:"moved"`
	Remaining  uint64 `json:"remaining"`
	DurationMS int64  `json:"duration_ms"`
}

func migrationView(r *migrate.Result) MigrationView {
	return MigrationView{
		Index:      r.Index,
		Generation: r.Generation,
		Scanned:    r.Scanned,
		Moved:      r.Moved,
		Remaining:  r.Remaining,
		DurationMS: r.Duration.Milliseconds(),
	}
}

// TrustView describes a trust record. Secrets are never returned.
type TrustView struct {
	URLHash   string     `json:"url_hash"`
	URL       string     `json:"url,omitempty"`
	State     string     `json:"state"`
	AddedAt   time.Time  `json:"added_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func trustView(s trust.Server) TrustView {
	v := TrustView{URLHash: s.URLHash, URL: s.URL, State: s.State.String(), AddedAt: s.AddedAt}
	if !s.RevokedAt.IsZero() {
		revoked := s.RevokedAt
		v.RevokedAt = &revoked
	}
	return v
}

// PurgeView is the body of POST /admin/trust/purge.
type PurgeView struct {
	Purged  []string `json:"purged"`
	Deleted uint64   `json:"deleted"`
	Failed  uint64   `json:"failed"`
}

// ReshardRequest is the body of POST /admin/reshard: the DSN of every shard
// of the target generation. Existing shards may be given as "".
type ReshardRequest struct {
	Shards []string `json:"shards"`
}

// TrustRequest is the body of POST /admin/trust. Exactly one of URL and
// URLHash identifies the server.
type TrustRequest struct {
	URL     string `json:"url,omitempty"`
	URLHash string `json:"url_hash,omitempty"`
	Secret  string `json:"secret"`
}

// RotateRequest is the body of POST /admin/trust/{hash}/rotate.
type RotateRequest struct {
	Secret string `json:"secret"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidArgument", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func shardIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, r, http.StatusBadRequest, "InvalidArgument", fmt.Sprintf("invalid shard index %q", chi.URLParam(r, "index")))
		return 0, false
	}
	return index, true
}

// ============================================================================
// Health and topology
// ============================================================================

// HealthView is the body of GET /health.
type HealthView struct {
	Status      Status `json:"status"`
	Generation  uint64 `json:"generation"`
	Shards      int    `json:"shards"`
	Unavailable int    `json:"unavailable"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	t := h.admin.Topology()
	v := HealthView{Status: StatusOK, Generation: t.Current.Generation, Shards: t.Current.Count()}
	for _, hd := range t.Handles() {
		if !hd.Available() {
			v.Unavailable++
		}
	}

	status := http.StatusOK
	if v.Unavailable > 0 {
		v.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, v)
}

func (h *handler) handleTopology(w http.ResponseWriter, r *http.Request) {
	t := h.admin.Topology()
	v := TopologyView{
		OperationID: h.admin.OperationID(),
		Resharding:  t.Resharding(),
		Current:     generationView(t.Current),
	}
	if t.Previous != nil {
		prev := generationView(t.Previous)
		v.Previous = &prev
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}
	rt, err := h.router.Route(key)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routeView(rt))
}

// ============================================================================
// Resharding
// ============================================================================

func (h *handler) handleBeginResharding(w http.ResponseWriter, r *http.Request) {
	var req ReshardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := h.admin.BeginResharding(r.Context(), req.Shards)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (h *handler) handleCompleteResharding(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.CompleteResharding(r.Context()); err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w)
}

func (h *handler) handleDrain(w http.ResponseWriter, r *http.Request) {
	index, ok := shardIndex(w, r)
	if !ok {
		return
	}
	if err := h.admin.MarkDraining(r.Context(), index); err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w)
}

func (h *handler) handleMigrate(w http.ResponseWriter, r *http.Request) {
	index, ok := shardIndex(w, r)
	if !ok {
		return
	}
	result, err := h.admin.Migrate(r.Context(), index)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, migrationView(result))
}

func (h *handler) handleRetire(w http.ResponseWriter, r *http.Request) {
	index, ok := shardIndex(w, r)
	if !ok {
		return
	}
	if err := h.admin.MarkRetired(r.Context(), index); err != nil {
		writeErr(w, r, err)
		return
	}
	writeOK(w)
}

// ============================================================================
// Trust
// ============================================================================

func (h *handler) handleListTrust(w http.ResponseWriter, r *http.Request) {
	servers := h.admin.TrustedServers()
	out := make([]TrustView, len(servers))
	for i, s := range servers {
		out[i] = trustView(s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleAddTrust(w http.ResponseWriter, r *http.Request) {
	var req TrustRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		srv trust.Server
		err error
	)
	switch {
	case req.URL != "" && req.URLHash != "":
		writeError(w, r, http.StatusBadRequest, "InvalidArgument", "give either url or url_hash, not both")
		return
	case req.URL != "":
		srv, err = h.admin.AddTrustedServer(r.Context(), req.URL, req.Secret)
	default:
		srv, err = h.admin.AddTrust(r.Context(), req.URLHash, req.Secret)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trustView(srv))
}

func (h *handler) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	var req RotateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	srv, err := h.admin.RotateSecret(r.Context(), chi.URLParam(r, "hash"), req.Secret)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trustView(srv))
}

func (h *handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	srv, err := h.admin.Revoke(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trustView(srv))
}

func (h *handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Purge(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	purged := stats.Purged
	if purged == nil {
		purged = []string{}
	}
	writeJSON(w, http.StatusOK, PurgeView{Purged: purged, Deleted: stats.DeletedCount, Failed: stats.FailedCount})
}
