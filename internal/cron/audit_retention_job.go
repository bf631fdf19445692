package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payrecon/pkg/logger"
)

const auditRetentionDays = 90

type auditRetentionRepo interface {
	DeleteReceivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type AuditRetentionJobParams struct {
	Logger     *logger.Logger
	Repository auditRetentionRepo
	Retention  int
}

func NewAuditRetentionJob(params AuditRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("callback audit repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = auditRetentionDays
	}
	return &auditRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type auditRetentionJob struct {
	logg      *logger.Logger
	repo      auditRetentionRepo
	retention int
	now       func() time.Time
}

func (j *auditRetentionJob) Name() string { return "callback-audit-retention" }

func (j *auditRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.repo.DeleteReceivedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("callback audit retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "callback audit retention complete")
	return nil
}
