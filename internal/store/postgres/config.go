package postgres

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/i474232898/weather-api/internal/appconfig"
)

func (s *Store) InsertConfigIfAbsent(ctx context.Context, entry appconfig.Entry) error {
	row, err := toConfigRow(entry)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) ListConfig(ctx context.Context) ([]appconfig.Entry, error) {
	var rows []configRow
	if err := s.db.WithContext(ctx).Order("key ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]appconfig.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

func (s *Store) UpsertConfig(ctx context.Context, entry appconfig.Entry) error {
	row, err := toConfigRow(entry)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, UpdateAll: true}).
		Create(&row).Error
}
