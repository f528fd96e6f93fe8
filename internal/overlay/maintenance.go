package overlay

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/spatial"
)

// allEntries returns every stored colleague and neighbour, ascending by
// distance to self.
func (e *Engine) allEntries() []model.NodeDbEntry {
	return e.db.GetClosestNodesByDistance(e.selfLocation, math.Inf(1), -1, peerdb.Included)
}

// EnsureMapFilled is the bootstrap task of spec.md §4.B. It first fans
// out across every configured seed concurrently (golang.org/x/sync's
// errgroup, since each dial is an independent, unrelated round trip),
// then works sequentially through whatever further candidates those
// seeds reported until colleagueTarget is reached, grounded on
// internal/discovery/service.go's announce/neighbor-merge loop.
func (e *Engine) EnsureMapFilled(ctx context.Context) {
	if e.dialer == nil || len(e.seeds) == 0 {
		return
	}

	var mu sync.Mutex
	visited := make(map[string]bool)
	var candidates []model.NetworkInterface
	for _, seed := range e.seeds {
		visited[seed.String()] = true
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, seed := range e.seeds {
		seed := seed
		group.Go(func() error {
			more := e.bootstrapOne(gctx, seed)
			mu.Lock()
			candidates = append(candidates, more...)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	for i := 0; i < len(candidates) && e.db.GetColleagueNodeCount() < e.cfg.ColleagueTarget; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		target := candidates[i]
		key := target.String()
		if visited[key] {
			continue
		}
		visited[key] = true
		candidates = append(candidates, e.bootstrapOne(ctx, target)...)
	}
}

// bootstrapOne dials target, requests colleague acceptance, stores the
// relation if accepted, and returns a sample of the contacts it reported
// knowing about, for the caller to fold into its candidate list.
func (e *Engine) bootstrapOne(ctx context.Context, target model.NetworkInterface) []model.NetworkInterface {
	remote, err := e.dialer.Dial(ctx, target)
	if err != nil {
		e.log.Debug("bootstrap dial failed", zap.String("target", target.String()), zap.Error(err))
		return nil
	}
	defer remote.Close()

	accepted, acceptor, err := remote.AcceptColleague(ctx, e.Self())
	if err != nil {
		e.log.Debug("bootstrap AcceptColleague failed", zap.String("target", target.String()), zap.Error(err))
		return nil
	}
	if accepted {
		if err := e.storeRelationAs(acceptor, model.RelationColleague, model.RoleInitiator); err != nil {
			e.log.Warn("failed to store bootstrap colleague", zap.Error(err))
		}
	}

	more, err := remote.GetRandomNodes(ctx, e.cfg.ColleagueTarget, peerdb.Excluded)
	if err != nil {
		return nil
	}
	var contacts []model.NetworkInterface
	for _, m := range more {
		if m.Profile.ID == e.selfID {
			continue
		}
		if _, known := e.db.Lookup(m.Profile.ID); known {
			continue
		}
		contacts = append(contacts, m.Profile.Contacts...)
	}
	return contacts
}

// DiscoverUnknownAreas implements the periodic discovery task: it finds
// angular sectors around self with no colleague in them, and asks a
// currently-known colleague for a sample of its own known nodes, keeping
// any candidate that lands in one of those empty sectors. This is the
// concrete behaviour behind the colleague-coverage bucket policy
// documented for Open Question (a) in spec.md §9.
func (e *Engine) DiscoverUnknownAreas(ctx context.Context) {
	if e.dialer == nil {
		return
	}
	colleagues := e.colleagues()
	if len(colleagues) == 0 {
		return
	}
	occupied := make(map[int]bool, spatial.SectorCount)
	for _, c := range colleagues {
		occupied[spatial.Sector(e.selfLocation, c.Location)] = true
	}
	if len(occupied) >= spatial.SectorCount {
		return
	}

	probe := colleagues[0]
	for _, contact := range probe.Profile.Contacts {
		remote, err := e.dialer.Dial(ctx, contact)
		if err != nil {
			continue
		}
		candidates, err := remote.GetRandomNodes(ctx, e.cfg.ColleagueTarget, peerdb.Excluded)
		remote.Close()
		if err != nil {
			continue
		}

		for _, cand := range candidates {
			if cand.Profile.ID == e.selfID {
				continue
			}
			if _, known := e.db.Lookup(cand.Profile.ID); known {
				continue
			}
			if occupied[spatial.Sector(e.selfLocation, cand.Location)] {
				continue
			}
			e.inviteColleague(ctx, cand)
		}
		return
	}
}

func (e *Engine) inviteColleague(ctx context.Context, candidate model.NodeDbEntry) {
	for _, contact := range candidate.Profile.Contacts {
		remote, err := e.dialer.Dial(ctx, contact)
		if err != nil {
			continue
		}
		accepted, acceptor, err := remote.AcceptColleague(ctx, e.Self())
		remote.Close()
		if err != nil || !accepted {
			return
		}
		if err := e.storeRelationAs(acceptor, model.RelationColleague, model.RoleInitiator); err != nil {
			e.log.Warn("failed to store discovered colleague", zap.Error(err))
		}
		return
	}
}

// RenewNodeRelations walks every stored relation with role Initiator
// that is due for renewal (within one renewalPeriod of expiring) and
// attempts to renew it. A relation where the peer holds the Initiator
// role is the peer's responsibility to renew, not ours, so it is left
// alone here.
func (e *Engine) RenewNodeRelations(ctx context.Context) {
	if e.dialer == nil {
		return
	}
	now := time.Now()
	for _, entry := range e.allEntries() {
		if entry.RoleType != model.RoleInitiator {
			continue
		}
		if entry.ExpiresAt.Sub(now) > e.cfg.RenewalPeriod {
			continue
		}
		e.renewOne(ctx, entry, now)
	}
}

func (e *Engine) renewOne(ctx context.Context, entry model.NodeDbEntry, now time.Time) {
	for _, contact := range entry.Profile.Contacts {
		remote, err := e.dialer.Dial(ctx, contact)
		if err != nil {
			continue
		}

		var accepted bool
		var acceptor model.NodeInfo
		switch entry.RelationType {
		case model.RelationColleague:
			accepted, acceptor, err = remote.RenewColleague(ctx, e.Self())
		case model.RelationNeighbour:
			accepted, acceptor, err = remote.RenewNeighbour(ctx, e.Self())
		}
		remote.Close()
		if err != nil {
			continue
		}
		if accepted {
			entry.NodeInfo = acceptor
			entry.ExpiresAt = now.Add(e.cfg.ExpirationPeriod)
			if err := e.db.Update(entry); err != nil {
				e.log.Warn("failed to persist renewal", zap.String("id", entry.Profile.ID), zap.Error(err))
			}
		}
		// Refused or not: leave the entry for ExpireOldNodes to collect
		// rather than removing it eagerly here.
		return
	}
	// unreachable through any contact: let ExpireOldNodes reap it in time.
}

func (e *Engine) storeRelationAs(info model.NodeInfo, rel model.NodeRelationType, role model.NodeContactRoleType) error {
	entry := model.NodeDbEntry{
		NodeInfo:     info,
		RelationType: rel,
		RoleType:     role,
		ExpiresAt:    time.Now().Add(e.cfg.ExpirationPeriod),
	}
	return e.db.Store(entry)
}

// RunMaintenanceLoop drives EnsureMapFilled/DiscoverUnknownAreas/
// RenewNodeRelations/expiration sweeps on their configured periods until
// ctx is cancelled, matching internal/discovery/service.go's
// ticker-driven announce/cleanup/topology-optimization loops.
func (e *Engine) RunMaintenanceLoop(ctx context.Context) {
	discoveryTicker := time.NewTicker(e.cfg.DiscoveryPeriod)
	defer discoveryTicker.Stop()
	maintenanceTicker := time.NewTicker(e.cfg.MaintenancePeriod)
	defer maintenanceTicker.Stop()

	e.EnsureMapFilled(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-discoveryTicker.C:
			e.EnsureMapFilled(ctx)
			e.DiscoverUnknownAreas(ctx)
		case <-maintenanceTicker.C:
			e.RenewNodeRelations(ctx)
			if n := e.db.ExpireOldNodes(time.Now()); n > 0 {
				e.log.Info("expired stale relations", zap.Int("count", n))
			}
		}
	}
}
