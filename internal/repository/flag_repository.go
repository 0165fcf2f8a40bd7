package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/gameverify-backend/internal/model"
)

var flagColumns = []string{
	"id", "session_id", "user_id", "game_type", "level_id",
	"code", "detail", "rejected", "recorded_at",
}

// FlagRepository appends suspicion events to the game_session_flags audit table.
type FlagRepository struct {
	pool *pgxpool.Pool
}

// NewFlagRepository creates a new FlagRepository.
func NewFlagRepository(pool *pgxpool.Pool) *FlagRepository {
	return &FlagRepository{pool: pool}
}

func flagRow(ev model.SuspicionEvent) []interface{} {
	return []interface{}{
		ev.ID, ev.SessionID, ev.UserID, ev.GameType, ev.LevelID,
		string(ev.Reason.Code), ev.Reason.Detail, ev.Rejected, ev.Reason.RecordedAt,
	}
}

// CopyFlags bulk inserts events with COPY. Fails as a whole on any bad row.
func (r *FlagRepository) CopyFlags(ctx context.Context, events []model.SuspicionEvent) error {
	rows := make([][]interface{}, 0, len(events))
	for _, ev := range events {
		rows = append(rows, flagRow(ev))
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"game_session_flags"}, flagColumns, pgx.CopyFromRows(rows))
	return err
}

// InsertFlag inserts one event. Replays of an already stored event are ignored.
func (r *FlagRepository) InsertFlag(ctx context.Context, ev model.SuspicionEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO game_session_flags (id, session_id, user_id, game_type, level_id, code, detail, rejected, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		flagRow(ev)...,
	)
	return err
}
