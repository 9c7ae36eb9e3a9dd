package postgres

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/i474232898/weather-api/internal/locations"
)

func locationError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return locations.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return locations.ErrDuplicate
	default:
		return err
	}
}

func (s *Store) CreateLocation(ctx context.Context, loc *locations.Location) error {
	row := toLocationRow(loc)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return locationError(err)
	}
	loc.CreatedAt, loc.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *Store) UpdateLocation(ctx context.Context, loc *locations.Location) error {
	var row locationRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&locationRow{}).Where("id = ?", loc.ID).Updates(map[string]any{
			"name":          loc.Name,
			"country":       loc.Country,
			"region":        loc.Region,
			"lat":           loc.Lat,
			"lon":           loc.Lon,
			"tz_iana":       loc.TimeZone,
			"is_ski_resort": loc.IsSkiResort,
			"updated_at":    tx.NowFunc(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&row, "id = ?", loc.ID).Error
	})
	if err != nil {
		return locationError(err)
	}
	loc.CreatedAt, loc.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *Store) DeleteLocation(ctx context.Context, id string) (*locations.Location, error) {
	var row locationRow
	res := s.db.WithContext(ctx).Clauses(clause.Returning{}).Where("id = ?", id).Delete(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, locations.ErrNotFound
	}
	loc := row.location()
	return &loc, nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*locations.Location, error) {
	var row locationRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, locationError(err)
	}
	loc := row.location()
	return &loc, nil
}

func (s *Store) ListLocations(ctx context.Context) ([]locations.Location, error) {
	return s.findLocations(s.db.WithContext(ctx))
}

func (s *Store) SearchLocations(ctx context.Context, filter locations.SearchFilter) ([]locations.Location, error) {
	q := s.db.WithContext(ctx)
	if term := strings.ToLower(strings.TrimSpace(filter.Query)); term != "" {
		q = q.Where("lower(name) LIKE ? ESCAPE '\\'", "%"+escapeLike(term)+"%")
	}
	if filter.IsSkiResort != nil {
		q = q.Where("is_ski_resort = ?", *filter.IsSkiResort)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return s.findLocations(q)
}

// InsertLocationIfAbsent relies on the coordinate and identity unique indexes.
func (s *Store) InsertLocationIfAbsent(ctx context.Context, loc *locations.Location) (bool, error) {
	row := toLocationRow(loc)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	loc.CreatedAt, loc.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return true, nil
}

func (s *Store) findLocations(q *gorm.DB) ([]locations.Location, error) {
	var rows []locationRow
	if err := q.Order("name ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]locations.Location, len(rows))
	for i, r := range rows {
		out[i] = r.location()
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
