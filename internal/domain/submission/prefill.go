package submission

import (
	"crypto/rand"
	"encoding/base64"
	"sort"
	"strings"
	"sync"
	"time"
)

// PrefillStash holds posted values server-side for the duplicate-recovery
// "keep my values" flow: the duplicate page links back to the form with a
// short random reference instead of echoing the answers in the URL.
// Entries are small, short-lived, and capped; on overflow the oldest go
// first.
type PrefillStash struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu      sync.Mutex
	entries map[string]prefillEntry
}

type prefillEntry struct {
	values  map[string][]string
	created time.Time
}

func NewPrefillStash(ttl time.Duration, max int) *PrefillStash {
	return &PrefillStash{
		ttl:     ttl,
		max:     max,
		now:     time.Now,
		entries: make(map[string]prefillEntry),
	}
}

// Put stores the normalized posted values and returns the reference, or
// "" when there is nothing worth keeping.
func (s *PrefillStash) Put(values map[string][]string) string {
	normalized := normalizePrefill(values)
	if len(normalized) == 0 {
		return ""
	}
	now := s.now()
	ref := newPrefillRef()

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.ttl)
	for k, e := range s.entries {
		if e.created.Before(cutoff) {
			delete(s.entries, k)
		}
	}
	s.entries[ref] = prefillEntry{values: normalized, created: now}

	if len(s.entries) > s.max {
		type aged struct {
			ref     string
			created time.Time
		}
		all := make([]aged, 0, len(s.entries))
		for k, e := range s.entries {
			all = append(all, aged{k, e.created})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })
		for _, a := range all[:len(s.entries)-s.max] {
			delete(s.entries, a.ref)
		}
	}
	return ref
}

// Get returns the stashed values for ref, or nil when expired or unknown.
func (s *PrefillStash) Get(ref string) map[string][]string {
	if ref == "" {
		return nil
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ref]
	if !ok {
		return nil
	}
	if e.created.Before(now.Add(-s.ttl)) {
		delete(s.entries, ref)
		return nil
	}
	return e.values
}

func normalizePrefill(values map[string][]string) map[string][]string {
	out := make(map[string][]string, len(values))
	for key, vals := range values {
		if key == "" {
			continue
		}
		var kept []string
		for _, v := range vals {
			if t := strings.TrimSpace(v); t != "" {
				kept = append(kept, t)
			}
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	return out
}

func newPrefillRef() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
