package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/router"
	"github.com/marmos91/dittoshard/pkg/shard"
	"github.com/marmos91/dittoshard/pkg/store/record"
)

const (
	// HeaderShardIndex reports the index of the shard that served a record request.
	HeaderShardIndex = "X-Shard-Index"

	// HeaderShardGeneration reports the generation of that shard.
	HeaderShardGeneration = "X-Shard-Generation"
)

func recordKey(w http.ResponseWriter, r *http.Request) (shard.Key, bool) {
	raw := chi.URLParam(r, "key")
	k, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidArgument", fmt.Sprintf("invalid shard key %q", raw))
		return 0, false
	}
	return shard.Key(k), true
}

func setShardHeaders(w http.ResponseWriter, rt *router.Route) {
	w.Header().Set(HeaderShardIndex, strconv.Itoa(rt.Index))
	w.Header().Set(HeaderShardGeneration, strconv.FormatUint(rt.Generation, 10))
}

// handleGetRecord reads a record from its owner. During a resharding window a
// miss on the outgoing owner is retried on the current owner, where an
// in-progress drain may already have moved the record.
func (h *handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}
	rt, err := h.router.Route(key)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	served := rt
	value, err := rt.Handle.Store.Get(r.Context(), uint64(key))
	if errors.Is(err, record.ErrRecordNotFound) && rt.Fallback != nil && rt.Fallback.Handle.Available() {
		served = rt.Fallback
		value, err = rt.Fallback.Handle.Store.Get(r.Context(), uint64(key))
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}

	setShardHeaders(w, served)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(value); err != nil {
		logger.Warn("Failed to write record %d: %v", key, err)
	}
}

func (h *handler) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}
	value, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidArgument", fmt.Sprintf("failed to read body: %v", err))
		return
	}

	rt, err := h.router.Route(key)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := rt.Handle.Store.Put(r.Context(), uint64(key), value); err != nil {
		writeErr(w, r, fmt.Errorf("put record %d on shard %q: %w", key, rt.Handle.Name, err))
		return
	}

	setShardHeaders(w, rt)
	writeJSON(w, http.StatusOK, routeView(rt))
}

// handleDeleteRecord removes a record from its owner and, during a resharding
// window, from the current owner too so a copy made by a drain cannot
// resurface.
func (h *handler) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}
	rt, err := h.router.Route(key)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	// Both owners must be reachable before anything is deleted, or a failed
	// request would leave the record on one of them.
	fb := rt.Fallback
	if fb != nil && !fb.Handle.Available() {
		writeErr(w, r, shard.NewError(shard.ErrShardUnavailable, "shard %q is unavailable", fb.Handle.Name).
			WithKey(key).WithShard(fb.Index, fb.Generation))
		return
	}

	if err := rt.Handle.Store.Delete(r.Context(), uint64(key)); err != nil {
		writeErr(w, r, fmt.Errorf("delete record %d on shard %q: %w", key, rt.Handle.Name, err))
		return
	}
	if fb != nil {
		if err := fb.Handle.Store.Delete(r.Context(), uint64(key)); err != nil {
			writeErr(w, r, fmt.Errorf("delete record %d on shard %q: %w", key, fb.Handle.Name, err))
			return
		}
	}

	setShardHeaders(w, rt)
	writeJSON(w, http.StatusOK, routeView(rt))
}
