package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-stats/internal/logger"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

const positionsTable = "positions"

// PositionQuery selects the closed positions of one owning entity, ordered by
// exit date. ExitAfter resumes past a checkpoint (strictly greater), ExitTo
// bounds the window inclusively.
type PositionQuery struct {
	OwnerColumn string
	OwnerID     uuid.UUID
	ExitAfter   optional.Option[time.Time]
	ExitTo      optional.Option[time.Time]
}

// PositionsRepository reads closed positions from Postgres.
type PositionsRepository struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

// NewPositionsRepository creates a positions repository on an open database
// handle.
func NewPositionsRepository(db *sql.DB, l *logger.Logger) *PositionsRepository {
	return &PositionsRepository{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: l,
	}
}

func (r *PositionsRepository) where(q PositionQuery) squirrel.And {
	cond := squirrel.And{squirrel.Eq{q.OwnerColumn: q.OwnerID}}
	if q.ExitAfter.IsSome() {
		cond = append(cond, squirrel.Gt{"exit_date": q.ExitAfter.Unwrap()})
	}
	if q.ExitTo.IsSome() {
		cond = append(cond, squirrel.LtOrEq{"exit_date": q.ExitTo.Unwrap()})
	}

	return cond
}

// Count returns how many positions match the query.
func (r *PositionsRepository) Count(ctx context.Context, q PositionQuery) (int, error) {
	query, args, err := r.sq.
		Select("count(1)").
		From(positionsTable).
		Where(r.where(q)).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count positions", err)
	}

	return count, nil
}

// Page reads one page of matching positions ordered by exit date, breaking
// ties by id so that paging is stable.
func (r *PositionsRepository) Page(ctx context.Context, q PositionQuery, limit, offset uint64) ([]types.Position, error) {
	query, args, err := r.sq.
		Select("id", "direction", "entry_date", "exit_date", "profit", "bars_held", "volume", "fee").
		From(positionsTable).
		Where(r.where(q)).
		OrderBy("exit_date ASC", "id ASC").
		Limit(limit).
		Offset(offset).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build positions query", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query positions", err)
	}
	defer rows.Close()

	positions := make([]types.Position, 0, limit)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate positions", err)
	}

	return positions, nil
}

// Chunks streams matching positions in pages of chunkSize. The stream ends
// after the first short page, so at most one extra round trip is spent
// discovering the end.
func (r *PositionsRepository) Chunks(ctx context.Context, q PositionQuery, chunkSize uint64) func(yield func([]types.Position, error) bool) {
	return func(yield func([]types.Position, error) bool) {
		offset := uint64(0)
		for {
			page, err := r.Page(ctx, q, chunkSize, offset)
			if err != nil {
				yield(nil, err)
				return
			}

			if len(page) > 0 {
				if !yield(page, nil) {
					return
				}
			}

			if uint64(len(page)) < chunkSize {
				return
			}
			offset += chunkSize
		}
	}
}

// PatchProfits writes fee-settled profits back to the positions rows and
// clears the consumed fee, so a later full recompute folds the settled profit
// without discounting it again.
func (r *PositionsRepository) PatchProfits(ctx context.Context, positions []types.Position) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeTransactionFailed, "failed to begin positions patch", err)
	}

	for _, pos := range positions {
		query, args, err := r.sq.
			Update(positionsTable).
			Set("profit", pos.Profit).
			Set("fee", nil).
			Where(squirrel.Eq{"id": pos.ID}).
			ToSql()
		if err != nil {
			tx.Rollback()
			return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to build position patch", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to patch position profit", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeTransactionFailed, "failed to commit positions patch", err)
	}

	r.logger.Debug("Patched position profits", zap.Int("count", len(positions)))

	return nil
}

func scanPosition(rows *sql.Rows) (types.Position, error) {
	var (
		pos         types.Position
		direction   string
		volume, fee sql.NullFloat64
	)

	if err := rows.Scan(&pos.ID, &direction, &pos.EntryDate, &pos.ExitDate, &pos.Profit, &pos.BarsHeld, &volume, &fee); err != nil {
		return types.Position{}, errors.Wrap(errors.ErrCodeScanFailed, "failed to scan position", err)
	}

	pos.Direction = types.Direction(direction)
	if volume.Valid {
		pos.Volume = optional.Some(volume.Float64)
	}
	if fee.Valid {
		pos.Fee = optional.Some(fee.Float64)
	}

	return pos, nil
}
