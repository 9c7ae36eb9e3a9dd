package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/i474232898/weather-api/internal/weather"
)

// UpsertHourly inserts records, replacing any stored row with the same key.
func (s *Store) UpsertHourly(ctx context.Context, records []weather.HourlyRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]hourlyRow, len(records))
	for i, r := range records {
		rows[i] = toHourlyRow(r)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, UpdateAll: true}).
		CreateInBatches(rows, upsertBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert hourly weather: %w", err)
	}
	return nil
}

func (s *Store) QueryHourly(ctx context.Context, q weather.HourlyQuery) ([]weather.HourlyRecord, error) {
	order := "date_time_epoch ASC"
	if q.Descending {
		order = "date_time_epoch DESC"
	}
	var rows []hourlyRow
	err := s.db.WithContext(ctx).
		Where("location_id = ? AND date_time_epoch BETWEEN ? AND ?", q.LocationID, q.FromEpoch, q.ToEpoch).
		Order(order).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly weather: %w", err)
	}
	out := make([]weather.HourlyRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

func (s *Store) DeleteHourlyBefore(ctx context.Context, cutoffEpochMs int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("date_time_epoch < ?", cutoffEpochMs).Delete(&hourlyRow{})
	return res.RowsAffected, res.Error
}

// DeleteHourlyNotIn refuses an empty keep list rather than emptying the table.
func (s *Store) DeleteHourlyNotIn(ctx context.Context, keep []string) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("location_id NOT IN ?", keep).Delete(&hourlyRow{})
	return res.RowsAffected, res.Error
}
