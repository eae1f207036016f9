package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"growhub-backend/config"
	"growhub-backend/internal/model"
)

// Notifier receives offline events discovered by the sweep.
type Notifier interface {
	DeviceOffline(deviceID int64)
}

// Service is the background maintenance loop: it marks devices offline when
// they go quiet without a clean disconnect, and purges log data that has
// aged out of the retention window.
type Service struct {
	cfg      *config.Config
	db       *gorm.DB
	notifier Notifier
}

// NewService creates a new sweeper.
func NewService(cfg *config.Config, gdb *gorm.DB, notifier Notifier) *Service {
	return &Service{cfg: cfg, db: gdb, notifier: notifier}
}

// Run executes sweeps on the configured interval until the context ends.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Sweeper.Enabled {
		log.Println("Sweeper is disabled. Not starting.")
		return
	}
	log.Println("Starting sweeper service...")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Sweeper.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper service shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Sweeper.Interval)
		}
	}
}

// SweepOnce runs a single maintenance pass.
func (s *Service) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	stale, err := s.markStaleOffline(ctx, now)
	if err != nil {
		log.Printf("Sweeper: offline sweep failed: %v", err)
	} else if len(stale) > 0 {
		log.Printf("Sweeper: marked %d silent devices offline", len(stale))
		if s.notifier != nil {
			for _, id := range stale {
				s.notifier.DeviceOffline(id)
			}
		}
	}

	purgedLogs, purgedEnv, err := s.purgeAgedData(ctx, now)
	if err != nil {
		log.Printf("Sweeper: retention purge failed: %v", err)
	} else if purgedLogs > 0 || purgedEnv > 0 {
		log.Printf("Sweeper: purged %d log entries and %d environment rows", purgedLogs, purgedEnv)
	}
}

// markStaleOffline flips devices that claim to be online but have not been
// seen within the offline threshold. Returns the affected device ids.
func (s *Service) markStaleOffline(ctx context.Context, now time.Time) ([]int64, error) {
	cutoff := now.Add(-s.cfg.Sweeper.OfflineThreshold)

	var ids []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Device{}).
			Where("online = ? AND (last_seen IS NULL OR last_seen < ?)", true, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("find stale devices: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&model.Device{}).
			Where("id IN ?", ids).
			Update("online", false).Error; err != nil {
			return fmt.Errorf("mark devices offline: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// purgeAgedData deletes plant logs for plants finished before the retention
// cutoff, and environment rows older than the cutoff that no unfinished
// plant's assignment interval still covers.
func (s *Service) purgeAgedData(ctx context.Context, now time.Time) (int64, int64, error) {
	cutoff := now.AddDate(0, 0, -s.cfg.Sweeper.RetentionDays)

	var purgedLogs, purgedEnv int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff).
			Where("plant_id IN (?)", tx.Session(&gorm.Session{NewDB: true}).
				Model(&model.Plant{}).Select("id").
				Where("end_date IS NOT NULL AND end_date < ?", cutoff)).
			Delete(&model.LogEntry{})
		if res.Error != nil {
			return fmt.Errorf("purge log entries: %w", res.Error)
		}
		purgedLogs = res.RowsAffected

		res = tx.Where("timestamp < ?", cutoff).
			Where(`NOT EXISTS (
				SELECT 1 FROM device_assignments da
				JOIN plants p ON p.id = da.plant_id
				WHERE da.device_id = environment_logs.device_id
				  AND da.assigned_at <= environment_logs.timestamp
				  AND (da.removed_at IS NULL OR da.removed_at > environment_logs.timestamp)
				  AND p.end_date IS NULL
			)`).
			Delete(&model.EnvironmentLog{})
		if res.Error != nil {
			return fmt.Errorf("purge environment logs: %w", res.Error)
		}
		purgedEnv = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return purgedLogs, purgedEnv, nil
}
