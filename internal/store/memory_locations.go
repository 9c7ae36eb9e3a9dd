package store

import (
	"context"
	"sort"
	"strings"

	"github.com/i474232898/weather-api/internal/locations"
)

// identityKey is the case-insensitive name/country/region uniqueness key.
func identityKey(l locations.Location) string {
	return strings.ToLower(l.Name) + "|" + strings.ToLower(l.Country) + "|" + strings.ToLower(l.Region)
}

// conflicts reports whether loc collides with any row other than itself.
func (s *MemoryStore) conflicts(loc *locations.Location) bool {
	key := identityKey(*loc)
	for id, row := range s.locations {
		if id == loc.ID {
			continue
		}
		if identityKey(row) == key || (row.Lat == loc.Lat && row.Lon == loc.Lon) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateLocation(_ context.Context, loc *locations.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[loc.ID]; ok || s.conflicts(loc) {
		return locations.ErrDuplicate
	}
	now := s.now()
	loc.CreatedAt, loc.UpdatedAt = now, now
	s.locations[loc.ID] = *loc
	return nil
}

func (s *MemoryStore) UpdateLocation(_ context.Context, loc *locations.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locations[loc.ID]
	if !ok {
		return locations.ErrNotFound
	}
	if s.conflicts(loc) {
		return locations.ErrDuplicate
	}
	loc.CreatedAt = existing.CreatedAt
	loc.UpdatedAt = s.now()
	s.locations[loc.ID] = *loc
	return nil
}

func (s *MemoryStore) DeleteLocation(_ context.Context, id string) (*locations.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.locations[id]
	if !ok {
		return nil, locations.ErrNotFound
	}
	delete(s.locations, id)
	return &row, nil
}

func (s *MemoryStore) GetLocation(_ context.Context, id string) (*locations.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.locations[id]
	if !ok {
		return nil, locations.ErrNotFound
	}
	return &row, nil
}

// ListLocations returns every location ordered by name.
func (s *MemoryStore) ListLocations(_ context.Context) ([]locations.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocations(func(locations.Location) bool { return true }, 0), nil
}

func (s *MemoryStore) SearchLocations(_ context.Context, filter locations.SearchFilter) ([]locations.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	match := func(l locations.Location) bool {
		if q != "" && !strings.Contains(strings.ToLower(l.Name), q) {
			return false
		}
		return filter.IsSkiResort == nil || l.IsSkiResort == *filter.IsSkiResort
	}
	return s.sortedLocations(match, filter.Limit), nil
}

func (s *MemoryStore) InsertLocationIfAbsent(_ context.Context, loc *locations.Location) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.locations {
		if row.Lat == loc.Lat && row.Lon == loc.Lon {
			return false, nil
		}
	}
	if s.conflicts(loc) {
		return false, nil
	}
	now := s.now()
	loc.CreatedAt, loc.UpdatedAt = now, now
	s.locations[loc.ID] = *loc
	return true, nil
}

func (s *MemoryStore) sortedLocations(match func(locations.Location) bool, limit int) []locations.Location {
	out := []locations.Location{}
	for _, row := range s.locations {
		if match(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
