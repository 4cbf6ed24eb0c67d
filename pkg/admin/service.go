// Package admin orchestrates operator actions on the shard topology and the
// federation trust store, and checkpoints every accepted change to the state
// store so a restarted node resumes where it stopped.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/config"
	"github.com/marmos91/dittoshard/pkg/federation/trust"
	"github.com/marmos91/dittoshard/pkg/gc"
	"github.com/marmos91/dittoshard/pkg/migrate"
	"github.com/marmos91/dittoshard/pkg/registry"
	"github.com/marmos91/dittoshard/pkg/shard"
	"github.com/marmos91/dittoshard/pkg/store/state"
)

// ShardOpener opens the record store behind a new shard.
type ShardOpener func(ctx context.Context, name, dsn string) (*shard.Handle, error)

// Config wires a Service to its collaborators.
type Config struct {
	Registry *registry.Registry
	Mover    *migrate.Mover
	Trust    *trust.Store
	State    state.Store

	// Collector runs on-demand purges. Nil creates a disabled collector over
	// Trust and State.
	Collector *gc.Collector

	// OpenShard defaults to config.CreateShardHandle.
	OpenShard ShardOpener

	// Clock stamps persisted topologies. Nil selects time.Now.
	Clock func() time.Time
}

// Operation identifies an accepted resharding request.
type Operation struct {
	ID         string `json:"operation_id"`
	Generation uint64 `json:"generation"`
	Shards     int    `json:"shards"`
}

// Service is the admin facade used by the HTTP API and the CLI.
//
// Thread Safety: Safe for concurrent use. Topology changes are serialized
// with their persistence, as are trust changes, so the state store always
// receives mutations in the order they were applied.
type Service struct {
	registry  *registry.Registry
	mover     *migrate.Mover
	trust     *trust.Store
	state     state.Store
	collector *gc.Collector
	open      ShardOpener
	now       func() time.Time

	topoMu      sync.Mutex
	operationID string

	trustMu sync.Mutex

	migMu     sync.Mutex
	migrating map[int]struct{}
}

// New creates an admin service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("admin: registry is required")
	case cfg.Mover == nil:
		return nil, errors.New("admin: mover is required")
	case cfg.Trust == nil:
		return nil, errors.New("admin: trust store is required")
	case cfg.State == nil:
		return nil, errors.New("admin: state store is required")
	}

	if cfg.Collector == nil {
		cfg.Collector = gc.NewCollector(cfg.Trust, cfg.State, gc.Config{})
	}
	if cfg.OpenShard == nil {
		cfg.OpenShard = config.CreateShardHandle
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Service{
		registry:  cfg.Registry,
		mover:     cfg.Mover,
		trust:     cfg.Trust,
		state:     cfg.State,
		collector: cfg.Collector,
		open:      cfg.OpenShard,
		now:       cfg.Clock,
		migrating: make(map[int]struct{}),
	}
	// Periodic and on-demand purges run under the same lock as trust
	// mutations, so a purge cannot delete a record re-added mid-run.
	s.collector.SetLocker(&s.trustMu)
	return s, nil
}

// ============================================================================
// Startup
// ============================================================================

// Restore loads persisted topology and trust records.
//
// When no topology has been persisted yet, the registry's current (seed)
// generation is saved as the initial state. Otherwise the persisted topology
// replaces the seed: shards whose DSN matches a seed shard reuse its open
// store, the others are opened, and seed shards that are no longer referenced
// are closed.
func (s *Service) Restore(ctx context.Context) error {
	// ========================================================================
	// Step 1: Topology
	// ========================================================================

	s.topoMu.Lock()
	rec, err := s.state.LoadTopology(ctx)
	switch {
	case errors.Is(err, state.ErrNotFound):
		logger.Info("No persisted topology, seeding generation %d (%d shards) from configuration",
			s.registry.Generation(), s.registry.CurrentCount())
		err = s.saveTopologyLocked(ctx)
	case err != nil:
		err = fmt.Errorf("failed to load topology: %w", err)
	default:
		err = s.restoreTopologyLocked(ctx, rec)
	}
	s.topoMu.Unlock()
	if err != nil {
		return err
	}

	// ========================================================================
	// Step 2: Trust records
	// ========================================================================

	records, err := s.state.LoadTrust(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trust records: %w", err)
	}

	servers := make([]trust.Server, 0, len(records))
	for _, r := range records {
		srv, err := decodeServer(r)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}

	s.trustMu.Lock()
	defer s.trustMu.Unlock()
	if err := s.trust.Restore(servers); err != nil {
		return fmt.Errorf("failed to restore trust records: %w", err)
	}

	logger.Info("Restored %d trust records", len(servers))
	return nil
}

func (s *Service) restoreTopologyLocked(ctx context.Context, rec *state.TopologyRecord) error {
	seed := s.registry.Snapshot().Handles()
	byDSN := make(map[string]*shard.Handle, len(seed))
	for _, h := range seed {
		byDSN[h.DSN] = h
	}

	var opened []*shard.Handle
	open := func(name, dsn string) (*shard.Handle, error) {
		if h, ok := byDSN[dsn]; ok {
			return h, nil
		}
		h, err := s.open(ctx, name, dsn)
		if err != nil {
			return nil, err
		}
		byDSN[dsn] = h
		opened = append(opened, h)
		return h, nil
	}

	t, err := decodeTopology(rec, open)
	if err == nil {
		err = s.registry.Restore(t)
	}
	if err != nil {
		config.CloseHandles(opened)
		return fmt.Errorf("failed to restore topology: %w", err)
	}

	used := make(map[*shard.Handle]struct{})
	for _, h := range t.Handles() {
		used[h] = struct{}{}
	}
	for _, h := range seed {
		if _, ok := used[h]; !ok {
			logger.Warn("Configured shard %q (%s) is not part of the persisted topology, closing it", h.Name, h.DSN)
			config.CloseHandles([]*shard.Handle{h})
		}
	}

	s.operationID = rec.OperationID

	if t.Resharding() {
		logger.Info("Restored topology: generation %d (%d shards), resharding from generation %d (operation %s)",
			t.Current.Generation, t.Current.Count(), t.Previous.Generation, rec.OperationID)
	} else {
		logger.Info("Restored topology: generation %d (%d shards)", t.Current.Generation, t.Current.Count())
	}
	return nil
}

func (s *Service) saveTopologyLocked(ctx context.Context) error {
	rec := EncodeTopology(s.registry.Snapshot(), s.operationID)
	rec.SavedAt = s.now()
	if err := s.state.SaveTopology(ctx, rec); err != nil {
		logger.Error("Failed to persist topology (generation %d): %v", rec.Current.Generation, err)
		return fmt.Errorf("failed to persist topology: %w", err)
	}
	return nil
}

// ============================================================================
// Topology
// ============================================================================

// Topology returns the published shard map.
func (s *Service) Topology() *registry.Topology {
	return s.registry.Snapshot()
}

// OperationID returns the ID of the open resharding operation, or "".
func (s *Service) OperationID() string {
	s.topoMu.Lock()
	defer s.topoMu.Unlock()
	return s.operationID
}

// BeginResharding opens a resharding window towards the shards described by
// dsns, one entry per shard of the new generation.
//
// Entries at indices that already exist must repeat that shard's DSN or be
// empty; existing shards keep their backend. Entries beyond the current count
// are opened through the configured ShardOpener. A shorter list shrinks the
// shard count.
func (s *Service) BeginResharding(ctx context.Context, dsns []string) (*Operation, error) {
	s.topoMu.Lock()
	defer s.topoMu.Unlock()

	t := s.registry.Snapshot()
	if t.Resharding() {
		return nil, shard.NewError(shard.ErrPreconditionFailed,
			"resharding to generation %d already in progress (operation %s)", t.Current.Generation, s.operationID)
	}
	if len(dsns) == 0 {
		return nil, shard.NewError(shard.ErrInvalidArgument, "target generation has no shards")
	}

	oldCount := t.Current.Count()
	existing := make(map[string]int, oldCount)
	for _, sh := range t.Current.Shards {
		existing[sh.Handle.DSN] = sh.Index
	}

	handles := make([]*shard.Handle, len(dsns))
	var opened []*shard.Handle
	fail := func(err error) (*Operation, error) {
		config.CloseHandles(opened)
		return nil, err
	}

	seen := make(map[string]int, len(dsns))
	for i, raw := range dsns {
		dsn := strings.TrimSpace(raw)
		if dsn != "" {
			if j, dup := seen[dsn]; dup {
				return fail(shard.NewError(shard.ErrInvalidArgument, "dsn %q is listed for shards %d and %d", dsn, j, i))
			}
			seen[dsn] = i
		}

		if i < oldCount {
			current := t.Current.Shards[i].Handle
			if dsn != "" && dsn != current.DSN {
				return fail(shard.NewError(shard.ErrInvalidArgument,
					"shard %d is served by %q, existing shards keep their backend", i, current.DSN))
			}
			continue
		}

		if dsn == "" {
			return fail(shard.NewError(shard.ErrInvalidArgument, "new shard %d needs a dsn", i))
		}
		if j, ok := existing[dsn]; ok {
			return fail(shard.NewError(shard.ErrInvalidArgument, "dsn %q already serves shard %d", dsn, j))
		}

		h, err := s.open(ctx, fmt.Sprintf("shard-%d", i), dsn)
		if err != nil {
			return fail(shard.NewError(shard.ErrInvalidArgument, "failed to open shard %d: %v", i, err))
		}
		opened = append(opened, h)
		handles[i] = h
	}

	generation, err := s.registry.BeginResharding(handles)
	if err != nil {
		return fail(err)
	}

	s.operationID = uuid.NewString()
	op := &Operation{ID: s.operationID, Generation: generation, Shards: len(dsns)}
	logger.Info("Resharding operation %s: %d -> %d shards", op.ID, oldCount, op.Shards)

	if err := s.saveTopologyLocked(ctx); err != nil {
		return op, err
	}
	return op, nil
}

// MarkDraining starts draining an outgoing-generation shard.
func (s *Service) MarkDraining(ctx context.Context, index int) error {
	s.topoMu.Lock()
	defer s.topoMu.Unlock()

	if err := s.registry.MarkDraining(index); err != nil {
		return err
	}
	return s.saveTopologyLocked(ctx)
}

// Migrate runs one migration pass over a DRAINING shard and persists the
// resulting checkpoint. Only one pass per shard runs at a time.
func (s *Service) Migrate(ctx context.Context, index int) (*migrate.Result, error) {
	release, err := s.claim(index)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := s.mover.DrainShard(ctx, index)
	if err != nil {
		return nil, err
	}

	s.topoMu.Lock()
	defer s.topoMu.Unlock()
	if err := s.saveTopologyLocked(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// MarkRetired recounts the keys left on a DRAINING shard, records the count
// as a fresh checkpoint and retires the shard when nothing remains.
func (s *Service) MarkRetired(ctx context.Context, index int) error {
	release, err := s.claim(index)
	if err != nil {
		return err
	}
	defer release()

	remaining, err := s.mover.Remaining(ctx, index)
	if err != nil {
		return err
	}

	s.topoMu.Lock()
	defer s.topoMu.Unlock()

	if err := s.registry.RecordCheckpoint(index, remaining); err != nil {
		return err
	}
	retireErr := s.registry.MarkRetired(index)

	// The fresh checkpoint is worth keeping even when retirement is refused.
	if err := s.saveTopologyLocked(ctx); err != nil {
		return err
	}
	return retireErr
}

// CompleteResharding closes the window once every outgoing shard is RETIRED.
// Stores that only served the outgoing generation are closed.
func (s *Service) CompleteResharding(ctx context.Context) error {
	s.topoMu.Lock()
	defer s.topoMu.Unlock()

	before := s.registry.Snapshot()
	if err := s.registry.CompleteResharding(); err != nil {
		return err
	}

	finished := s.operationID
	s.operationID = ""
	if err := s.saveTopologyLocked(ctx); err != nil {
		return err
	}

	kept := make(map[*shard.Handle]struct{})
	for _, sh := range before.Current.Shards {
		kept[sh.Handle] = struct{}{}
	}
	var dropped []*shard.Handle
	for _, sh := range before.Previous.Shards {
		if _, ok := kept[sh.Handle]; !ok {
			dropped = append(dropped, sh.Handle)
		}
	}
	config.CloseHandles(dropped)

	logger.Info("Resharding operation %s complete, closed %d retired stores", finished, len(dropped))
	return nil
}

// claim marks index as having a migration step in flight.
func (s *Service) claim(index int) (func(), error) {
	s.migMu.Lock()
	defer s.migMu.Unlock()

	if _, busy := s.migrating[index]; busy {
		return nil, shard.NewError(shard.ErrPreconditionFailed, "a migration step for shard %d is already running", index)
	}
	s.migrating[index] = struct{}{}

	return func() {
		s.migMu.Lock()
		delete(s.migrating, index)
		s.migMu.Unlock()
	}, nil
}

// ============================================================================
// Trust
// ============================================================================

// AddTrust records a handshake with the server identified by urlHash.
func (s *Service) AddTrust(ctx context.Context, urlHash, secret string) (trust.Server, error) {
	return s.mutateTrust(ctx, func() (trust.Server, error) {
		return s.trust.AddTrust(urlHash, secret)
	})
}

// AddTrustedServer records a handshake with the server at url.
func (s *Service) AddTrustedServer(ctx context.Context, url, secret string) (trust.Server, error) {
	return s.mutateTrust(ctx, func() (trust.Server, error) {
		return s.trust.AddTrustedServer(url, secret)
	})
}

// Revoke withdraws trust from urlHash.
func (s *Service) Revoke(ctx context.Context, urlHash string) (trust.Server, error) {
	return s.mutateTrust(ctx, func() (trust.Server, error) {
		return s.trust.Revoke(urlHash)
	})
}

// RotateSecret replaces the shared secret of an ACTIVE server.
func (s *Service) RotateSecret(ctx context.Context, urlHash, secret string) (trust.Server, error) {
	return s.mutateTrust(ctx, func() (trust.Server, error) {
		return s.trust.RotateSecret(urlHash, secret)
	})
}

func (s *Service) mutateTrust(ctx context.Context, fn func() (trust.Server, error)) (trust.Server, error) {
	s.trustMu.Lock()
	defer s.trustMu.Unlock()

	rec, err := fn()
	if err != nil {
		return trust.Server{}, err
	}
	if err := s.state.SaveTrust(ctx, encodeServer(rec)); err != nil {
		logger.Error("Failed to persist trust record %s: %v", rec.URLHash, err)
		return rec, fmt.Errorf("failed to persist trust record: %w", err)
	}
	return rec, nil
}

// Purge removes REVOKED records whose grace period has elapsed.
func (s *Service) Purge(ctx context.Context) (*gc.Stats, error) {
	return s.collector.RunNow(ctx)
}

// TrustedServers returns every trust record ordered by URL hash.
func (s *Service) TrustedServers() []trust.Server {
	return s.trust.List()
}
