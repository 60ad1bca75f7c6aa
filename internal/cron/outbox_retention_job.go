package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	outboxRetention = 7 * 24 * time.Hour
	dlqRetention    = 30 * 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type dlqPruner interface {
	DeleteBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Outbox       outboxPruner
	DLQ          dlqPruner
	Retention    time.Duration
	DLQRetention time.Duration
	Now          func() time.Time
}

// NewOutboxRetentionJob prunes published outbox rows and old dead letters.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = outboxRetention
	}
	dlq := params.DLQRetention
	if dlq <= 0 {
		dlq = dlqRetention
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		outbox:       params.Outbox,
		dlq:          params.DLQ,
		retention:    retention,
		dlqRetention: dlq,
		now:          now,
	}, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	outbox       outboxPruner
	dlq          dlqPruner
	retention    time.Duration
	dlqRetention time.Duration
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)
	dlqCutoff := now.Add(-j.dlqRetention)

	var published, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.outbox.DeletePublishedBefore(tx, cutoff)
		if err != nil {
			return fmt.Errorf("prune outbox: %w", err)
		}
		published = rows
		if j.dlq == nil {
			return nil
		}
		rows, err = j.dlq.DeleteBefore(tx, dlqCutoff)
		if err != nil {
			return fmt.Errorf("prune dlq: %w", err)
		}
		deadLetters = rows
		return nil
	})
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":           cutoff,
		"dlq_cutoff":       dlqCutoff,
		"outbox_deleted":   published,
		"dead_letters_cut": deadLetters,
	}), "outbox retention complete")
	return nil
}
