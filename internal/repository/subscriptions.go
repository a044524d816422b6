package repository

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/rxtech-lab/argo-stats/internal/logger"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

const subscriptionsTable = "signal_subscriptions"

// SubscriptionsRepository reads signal subscriptions from Postgres.
type SubscriptionsRepository struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

// NewSubscriptionsRepository creates a subscriptions repository on an open
// database handle.
func NewSubscriptionsRepository(db *sql.DB, l *logger.Logger) *SubscriptionsRepository {
	return &SubscriptionsRepository{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: l,
	}
}

// ListByRobot returns every subscription to the given robot ordered by
// subscription time, oldest first.
func (r *SubscriptionsRepository) ListByRobot(ctx context.Context, robotID uuid.UUID) ([]types.Subscription, error) {
	query, args, err := r.sq.
		Select("id", "user_id", "robot_id", "subscribed_at").
		From(subscriptionsTable).
		Where(squirrel.Eq{"robot_id": robotID}).
		OrderBy("subscribed_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build subscriptions query", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query subscriptions", err)
	}
	defer rows.Close()

	subscriptions := make([]types.Subscription, 0)
	for rows.Next() {
		var sub types.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.RobotID, &sub.SubscribedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeScanFailed, "failed to scan subscription", err)
		}
		subscriptions = append(subscriptions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate subscriptions", err)
	}

	return subscriptions, nil
}
