package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-stats/internal/logger"
	"github.com/rxtech-lab/argo-stats/internal/stats"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

const (
	tradeStatsTable  = "trade_stats"
	periodStatsTable = "period_stats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatsRepository persists full and period statistics, one row per entity in
// trade_stats and one row per calendar bucket in period_stats. The metric
// payloads live in jsonb columns so the schema never chases the metric set.
type StatsRepository struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

// NewStatsRepository creates a statistics repository on an open database
// handle.
func NewStatsRepository(db *sql.DB, l *logger.Logger) *StatsRepository {
	return &StatsRepository{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: l,
	}
}

// Load reads the stored trade stats of one entity. It returns None when the
// entity has never been calculated.
func (r *StatsRepository) Load(ctx context.Context, kind types.EntityKind, id uuid.UUID) (optional.Option[stats.TradeStats], error) {
	none := optional.None[stats.TradeStats]()

	query, args, err := r.sq.
		Select("statistics", "equity", "equity_avg", "last_position_exit_date", "last_updated_at").
		From(tradeStatsTable).
		Where(squirrel.And{
			squirrel.Eq{"entity_type": kind},
			squirrel.Eq{"entity_id": id},
		}).
		ToSql()
	if err != nil {
		return none, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build stats query", err)
	}

	var (
		statistics, equity, equityAvg []byte
		lastExit, lastUpdated         time.Time
	)

	err = r.db.QueryRowContext(ctx, query, args...).
		Scan(&statistics, &equity, &equityAvg, &lastExit, &lastUpdated)
	if err == sql.ErrNoRows {
		return none, nil
	}
	if err != nil {
		return none, errors.Wrap(errors.ErrCodeQueryFailed, "failed to load trade stats", err)
	}

	ts := stats.NewTradeStats()
	if err := json.Unmarshal(statistics, &ts.Statistics); err != nil {
		return none, errors.Wrap(errors.ErrCodeScanFailed, "failed to decode statistics payload", err)
	}
	if err := json.Unmarshal(equity, &ts.Equity); err != nil {
		return none, errors.Wrap(errors.ErrCodeScanFailed, "failed to decode equity payload", err)
	}
	if err := json.Unmarshal(equityAvg, &ts.EquityAvg); err != nil {
		return none, errors.Wrap(errors.ErrCodeScanFailed, "failed to decode equity avg payload", err)
	}
	ts.LastPositionExitDate = lastExit
	ts.LastUpdatedAt = lastUpdated

	return optional.Some(ts), nil
}

// LoadPeriods reads every stored calendar bucket of one entity.
func (r *StatsRepository) LoadPeriods(ctx context.Context, kind types.EntityKind, id uuid.UUID) ([]stats.PeriodStats, error) {
	query, args, err := r.sq.
		Select("period", "key", "year", "quarter", "month", "date_from", "date_to", "stats").
		From(periodStatsTable).
		Where(squirrel.And{
			squirrel.Eq{"entity_type": kind},
			squirrel.Eq{"entity_id": id},
		}).
		OrderBy("period ASC", "key ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build period stats query", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to load period stats", err)
	}
	defer rows.Close()

	periods := make([]stats.PeriodStats, 0)
	for rows.Next() {
		var (
			p              stats.PeriodStats
			kindCol        string
			quarter, month sql.NullInt64
			payload        []byte
		)

		if err := rows.Scan(&kindCol, &p.Key, &p.Year, &quarter, &month, &p.DateFrom, &p.DateTo, &payload); err != nil {
			return nil, errors.Wrap(errors.ErrCodeScanFailed, "failed to scan period stats", err)
		}

		p.Kind = stats.PeriodKind(kindCol)
		if quarter.Valid {
			p.Quarter = optional.Some(int(quarter.Int64))
		}
		if month.Valid {
			p.Month = optional.Some(int(month.Int64))
		}
		if err := json.Unmarshal(payload, &p.Stats); err != nil {
			return nil, errors.Wrap(errors.ErrCodeScanFailed, "failed to decode period stats payload", err)
		}

		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate period stats", err)
	}

	return periods, nil
}

// Save writes the trade stats row and the given calendar buckets in one
// transaction. With replacePeriods set, every stored bucket of the entity is
// dropped first; a full recompute must not leave buckets behind that the new
// history no longer produces.
func (r *StatsRepository) Save(ctx context.Context, kind types.EntityKind, id uuid.UUID, ts stats.TradeStats, periods []stats.PeriodStats, replacePeriods bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeTransactionFailed, "failed to begin stats save", err)
	}

	if err := r.upsertTradeStats(ctx, tx, kind, id, ts); err != nil {
		tx.Rollback()
		return err
	}

	if replacePeriods {
		if err := r.deletePeriods(ctx, tx, kind, id); err != nil {
			tx.Rollback()
			return err
		}
	}

	for _, p := range periods {
		if err := r.upsertPeriod(ctx, tx, kind, id, p); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeTransactionFailed, "failed to commit stats save", err)
	}

	r.logger.Debug("Saved trade stats",
		zap.String("entityType", string(kind)),
		zap.String("entityId", id.String()),
		zap.Int("periods", len(periods)),
		zap.Bool("replacePeriods", replacePeriods))

	return nil
}

func (r *StatsRepository) upsertTradeStats(ctx context.Context, tx *sql.Tx, kind types.EntityKind, id uuid.UUID, ts stats.TradeStats) error {
	statistics, err := json.Marshal(ts.Statistics)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to encode statistics payload", err)
	}
	equity, err := json.Marshal(ts.Equity)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to encode equity payload", err)
	}
	equityAvg, err := json.Marshal(ts.EquityAvg)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to encode equity avg payload", err)
	}

	query, args, err := r.sq.
		Insert(tradeStatsTable).
		Columns("entity_type", "entity_id", "statistics", "equity", "equity_avg", "last_position_exit_date", "last_updated_at").
		Values(kind, id, statistics, equity, equityAvg, ts.LastPositionExitDate, ts.LastUpdatedAt).
		Suffix(`ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			statistics = EXCLUDED.statistics,
			equity = EXCLUDED.equity,
			equity_avg = EXCLUDED.equity_avg,
			last_position_exit_date = EXCLUDED.last_position_exit_date,
			last_updated_at = EXCLUDED.last_updated_at`).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to build stats upsert", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to upsert trade stats", err)
	}

	return nil
}

func (r *StatsRepository) deletePeriods(ctx context.Context, tx *sql.Tx, kind types.EntityKind, id uuid.UUID) error {
	query, args, err := r.sq.
		Delete(periodStatsTable).
		Where(squirrel.And{
			squirrel.Eq{"entity_type": kind},
			squirrel.Eq{"entity_id": id},
		}).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to build period delete", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to delete period stats", err)
	}

	return nil
}

func (r *StatsRepository) upsertPeriod(ctx context.Context, tx *sql.Tx, kind types.EntityKind, id uuid.UUID, p stats.PeriodStats) error {
	payload, err := json.Marshal(p.Stats)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to encode period stats payload", err)
	}

	var quarter, month interface{}
	if p.Quarter.IsSome() {
		quarter = p.Quarter.Unwrap()
	}
	if p.Month.IsSome() {
		month = p.Month.Unwrap()
	}

	query, args, err := r.sq.
		Insert(periodStatsTable).
		Columns("entity_type", "entity_id", "period", "key", "year", "quarter", "month", "date_from", "date_to", "stats").
		Values(kind, id, p.Kind, p.Key, p.Year, quarter, month, p.DateFrom, p.DateTo, payload).
		Suffix(`ON CONFLICT (entity_type, entity_id, period, key) DO UPDATE SET
			stats = EXCLUDED.stats,
			date_from = EXCLUDED.date_from,
			date_to = EXCLUDED.date_to`).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to build period upsert", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to upsert period stats", err)
	}

	return nil
}
