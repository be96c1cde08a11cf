package zk

import (
	"errors"
	"fmt"
)

// maxRetryAttempts bounds RetryUpdate's optimistic-concurrency loop. A
// version mismatch on every attempt almost always means a hot path under
// sustained contention from another writer, not a transient race worth
// retrying forever.
const maxRetryAttempts = 10

// RetryUpdate implements the read-modify-write idiom every coordination
// client needs but the wire protocol has no primitive for: read the
// current data and version (or learn the node doesn't exist yet), let
// mutate compute the replacement, and either Create or Set conditioned on
// what was observed — retrying the whole cycle from the top whenever a
// concurrent writer raced in between. Grounded on the gozk reference's
// RetryChange: a missing node retries through Create (falling back to
// another read if a concurrent Create won the race first), and an
// existing node retries through a version-conditioned Set.
//
// mutate receives the current data (nil if the node does not yet exist)
// and returns the new data to write. It returning a non-nil error aborts
// the retry loop immediately without writing.
func (s *Session) RetryUpdate(path string, acl []ACL, flags Flag, mutate func(data []byte) ([]byte, error)) (Stat, error) {
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		cur, err := s.Get(path, nil)
		switch {
		case errors.Is(err, ErrNoNode):
			next, merr := mutate(nil)
			if merr != nil {
				return Stat{}, fmt.Errorf("retry update %q: mutate: %w", path, merr)
			}
			createdPath, cerr := s.Create(path, next, acl, flags)
			if cerr != nil {
				if errors.Is(cerr, ErrNodeExists) {
					continue // another writer created it first; re-read and retry as an update
				}
				return Stat{}, fmt.Errorf("retry update %q: create: %w", path, cerr)
			}
			created, gerr := s.Get(createdPath, nil)
			if gerr != nil {
				return Stat{}, fmt.Errorf("retry update %q: read after create: %w", path, gerr)
			}
			return created.Stat, nil
		case err != nil:
			return Stat{}, fmt.Errorf("retry update %q: read: %w", path, err)
		}

		next, err := mutate(cur.Data)
		if err != nil {
			return Stat{}, fmt.Errorf("retry update %q: mutate: %w", path, err)
		}

		stat, err := s.Set(path, next, cur.Stat.Version)
		if err == nil {
			return stat, nil
		}
		if !errors.Is(err, ErrBadVersion) && !errors.Is(err, ErrNoNode) {
			return Stat{}, fmt.Errorf("retry update %q: write: %w", path, err)
		}
	}
	return Stat{}, fmt.Errorf("retry update %q: %w after %d attempts", path, ErrBadVersion, maxRetryAttempts)
}
