package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-apiaccess/config"
)

var ErrInvalidRetentionDays = errors.New("retention days must be a positive number")

const cleanupChunkSize = 1000

type CleanupResult struct {
	Cutoff    time.Time
	Deleted   int64
	Remaining int64
	DryRun    bool
}

// RetentionService prunes audit log entries older than the retention
// window. Deletes run in chunks so a large backlog never holds a long
// transaction.
type RetentionService struct {
	logRepo APILogRepository
	cfg     *config.Config
}

func NewRetentionService(logRepo APILogRepository, cfg *config.Config) *RetentionService {
	return &RetentionService{logRepo: logRepo, cfg: cfg}
}

func (s *RetentionService) Cleanup(ctx context.Context, days int, dryRun bool) (*CleanupResult, error) {
	if days == 0 {
		days = s.cfg.Logging.RetentionDays
	}
	if days < 1 {
		return nil, ErrInvalidRetentionDays
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	result := &CleanupResult{Cutoff: cutoff, DryRun: dryRun}

	toDelete, err := s.logRepo.CountOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	if dryRun {
		total, err := s.logRepo.Count(ctx)
		if err != nil {
			return nil, err
		}
		result.Deleted = toDelete
		result.Remaining = total - toDelete
		return result, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		deleted, err := s.logRepo.DeleteOlderThan(ctx, cutoff, cleanupChunkSize)
		if err != nil {
			return result, err
		}
		if deleted == 0 {
			break
		}
		result.Deleted += deleted
	}

	remaining, err := s.logRepo.Count(ctx)
	if err != nil {
		return result, err
	}
	result.Remaining = remaining

	logrus.WithFields(logrus.Fields{
		"deleted_count":  result.Deleted,
		"retention_days": days,
		"cutoff_date":    cutoff.Format(time.RFC3339),
		"remaining_logs": remaining,
	}).Info("API logs cleanup completed")

	return result, nil
}
