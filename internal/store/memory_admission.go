package store

import (
	"context"
	"sort"
	"time"

	"github.com/i474232898/weather-api/internal/admission"
)

func (s *MemoryStore) CreateClient(_ context.Context, c *admission.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.clients {
		if existing.KeyHash == c.KeyHash {
			return admission.ErrDuplicateKey
		}
	}
	s.clients[c.ID] = cloneClient(*c)
	return nil
}

func (s *MemoryStore) GetClient(_ context.Context, id string) (*admission.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, admission.ErrClientNotFound
	}
	out := cloneClient(c)
	return &out, nil
}

func (s *MemoryStore) FindActiveClientByKeyHash(_ context.Context, keyHash string) (*admission.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.KeyHash == keyHash && c.Active() {
			out := cloneClient(c)
			return &out, nil
		}
	}
	return nil, admission.ErrClientNotFound
}

func (s *MemoryStore) ListClients(_ context.Context) ([]admission.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]admission.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateClient replaces the stored client but keeps the usage totals, which
// only TouchClientUsage and MarkClientAlerted advance.
func (s *MemoryStore) UpdateClient(_ context.Context, c *admission.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.clients[c.ID]
	if !ok {
		return admission.ErrClientNotFound
	}
	for id, other := range s.clients {
		if id != c.ID && other.KeyHash == c.KeyHash {
			return admission.ErrDuplicateKey
		}
	}
	next := cloneClient(*c)
	next.TotalUsage = existing.TotalUsage
	next.LastUsedAt = existing.LastUsedAt
	next.LastAccessAlertAt = existing.LastAccessAlertAt
	s.clients[c.ID] = next
	return nil
}

func (s *MemoryStore) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return admission.ErrClientNotFound
	}
	delete(s.clients, id)
	return nil
}

func (s *MemoryStore) TouchClientUsage(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return admission.ErrClientNotFound
	}
	c.TotalUsage++
	c.LastUsedAt = &at
	s.clients[id] = c
	return nil
}

func (s *MemoryStore) MarkClientAlerted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return admission.ErrClientNotFound
	}
	c.LastAccessAlertAt = &at
	s.clients[id] = c
	return nil
}

func (s *MemoryStore) IncrementUsageWindow(_ context.Context, clientID string, windowStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageWindowKey{clientID: clientID, start: windowStart.UnixMilli()}
	s.usageWindows[k]++
	return s.usageWindows[k], nil
}

func (s *MemoryStore) IncrementUsageDay(_ context.Context, clientID, dayKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageDayKey{clientID: clientID, day: dayKey}
	s.usageDays[k]++
	return s.usageDays[k], nil
}

func (s *MemoryStore) UsageDayCount(_ context.Context, clientID, dayKey string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usageDays[usageDayKey{clientID: clientID, day: dayKey}], nil
}

func (s *MemoryStore) AppendAccessLog(_ context.Context, entry admission.AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessLogs = append(s.accessLogs, entry)
	return nil
}

// DistinctHostsSince ignores empty hosts.
func (s *MemoryStore) DistinctHostsSince(_ context.Context, clientID string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	hosts := []string{}
	for _, l := range s.accessLogs {
		if l.ClientID != clientID || l.Host == "" || l.CreatedAt.Before(since) {
			continue
		}
		if _, ok := seen[l.Host]; !ok {
			seen[l.Host] = struct{}{}
			hosts = append(hosts, l.Host)
		}
	}
	return hosts, nil
}

func (s *MemoryStore) RecentAccessLogs(_ context.Context, clientID string, limit int) ([]admission.AccessLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []admission.AccessLog{}
	for i := len(s.accessLogs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.accessLogs[i].ClientID == clientID {
			out = append(out, s.accessLogs[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) PurgeUsageBefore(_ context.Context, windowBefore time.Time, dayKeyBefore string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.usageWindows {
		if k.start < windowBefore.UnixMilli() {
			delete(s.usageWindows, k)
			n++
		}
	}
	for k := range s.usageDays {
		if k.day < dayKeyBefore {
			delete(s.usageDays, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeAccessLogsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.accessLogs[:0]
	for _, l := range s.accessLogs {
		if !l.CreatedAt.Before(before) {
			kept = append(kept, l)
		}
	}
	n := int64(len(s.accessLogs) - len(kept))
	s.accessLogs = kept
	return n, nil
}

func cloneClient(c admission.Client) admission.Client {
	if c.Metadata != nil {
		md := make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			md[k] = v
		}
		c.Metadata = md
	}
	return c
}
