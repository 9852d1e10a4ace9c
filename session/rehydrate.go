package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/coursemart/authclient/persist"
	"github.com/coursemart/authclient/refresh"
)

// Rehydrate restores the session at start-up.
//
// Without a persisted identity it settles on Anonymous and makes no network
// call. Otherwise it refreshes once: a grant reloads the identity from the
// server (best effort), a denial clears everything, and an indeterminate
// result keeps the stored identity so a transient failure never signs the
// user out. If ctx ends first Rehydrate returns without touching the
// session and only drops the Loading flag.
func (s *Store) Rehydrate(ctx context.Context) {
	s.update(func() bool {
		s.loading = true
		return true
	})

	stored, _, err := s.persister.Load()
	if err != nil {
		if !errors.Is(err, persist.ErrNoSession) {
			s.logger.Warn("loading persisted identity failed", "error", err)
		}
		s.cred.SetBelief(false)
		s.update(func() bool {
			s.user = nil
			s.state = Anonymous
			s.loading = false
			return true
		})
		return
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	s.cred.SetBelief(true)
	outcome := s.refresher.Refresh(ctx)
	if ctx.Err() != nil {
		s.stopLoading()
		return
	}

	switch outcome.Kind {
	case refresh.Denied:
		// The forced-logout handler has already cleared the session when
		// the coordinator shares our bus. A login that raced the refresh
		// owns the session now and must survive the stale denial.
		s.mu.Lock()
		current := s.epoch == epoch
		s.mu.Unlock()
		if current {
			s.clear()
		} else {
			s.stopLoading()
		}
		return
	case refresh.Indeterminate:
		if s.debug {
			s.logger.Debug("refresh indeterminate at start-up, keeping stored identity", "error", outcome.Err)
		}
		s.adopt(epoch, func() {
			s.user = stored.Clone()
			s.state = Authenticated
		})
		return
	}

	if !s.adopt(epoch, func() {
		s.user = stored.Clone()
		s.state = Authenticated
	}) {
		return
	}

	var me meResponse
	if err := s.api.Do(ctx, http.MethodGet, pathMe, nil, &me); err != nil || me.User == nil {
		if s.debug {
			s.logger.Debug("identity reload failed, keeping stored identity", "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	fresh := me.User
	if fresh.Validate() != nil {
		return
	}
	applied := false
	s.update(func() bool {
		// A login or logout that raced us wins.
		if s.epoch != epoch+1 || s.user == nil || s.user.ID != fresh.ID {
			return false
		}
		s.user = fresh.Clone()
		applied = true
		return true
	})
	if applied {
		if err := s.persister.Persist(fresh, persist.ScopeKeep); err != nil {
			s.logger.Warn("persisting refreshed identity failed", "error", err)
		}
	}
}

// adopt applies fn and ends loading unless the session changed since
// epoch. It reports whether fn ran.
func (s *Store) adopt(epoch uint64, fn func()) bool {
	applied := false
	s.update(func() bool {
		s.loading = false
		if s.epoch == epoch {
			fn()
			s.epoch++
			applied = true
		}
		return true
	})
	return applied
}

func (s *Store) stopLoading() {
	s.update(func() bool {
		if !s.loading {
			return false
		}
		s.loading = false
		return true
	})
}
