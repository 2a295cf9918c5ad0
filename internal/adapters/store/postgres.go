package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/dkeye/meshroom/internal/domain"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id    TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS room_participants (
	room_id  TEXT NOT NULL REFERENCES rooms (room_id),
	user_id  TEXT NOT NULL,
	added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (room_id, user_id)
);
CREATE TABLE IF NOT EXISTS room_history (
	id        BIGSERIAL PRIMARY KEY,
	room_id   TEXT NOT NULL REFERENCES rooms (room_id),
	sender_id TEXT NOT NULL,
	message   TEXT NOT NULL,
	sent_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS room_history_room_idx ON room_history (room_id, id);
`

// Postgres keeps the durable room in three tables. Queries are traced
// through otelsql.
type Postgres struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := otelsql.Open("postgres", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	log.Info().Str("module", "store.postgres").Msg("connected")
	return &Postgres{db: db}, nil
}

func (p *Postgres) ensureRoom(ctx context.Context, id domain.RoomID) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO rooms (room_id) VALUES ($1) ON CONFLICT DO NOTHING", string(id))
	return err
}

func (p *Postgres) FindOrCreateRoom(ctx context.Context, id domain.RoomID) (*domain.DurableRoom, error) {
	if err := p.ensureRoom(ctx, id); err != nil {
		return nil, fmt.Errorf("create room %s: %w", id, err)
	}
	room := &domain.DurableRoom{
		RoomID:       id,
		Participants: []domain.UserID{},
		History:      []domain.HistoryEntry{},
	}

	rows, err := p.db.QueryContext(ctx,
		"SELECT user_id FROM room_participants WHERE room_id = $1 ORDER BY added_at, user_id", string(id))
	if err != nil {
		return nil, fmt.Errorf("load participants %s: %w", id, err)
	}
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			rows.Close()
			return nil, err
		}
		room.Participants = append(room.Participants, domain.UserID(user))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx,
		"SELECT sender_id, message, sent_at FROM room_history WHERE room_id = $1 ORDER BY id", string(id))
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.SenderID, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		room.History = append(room.History, e)
	}
	return room, rows.Err()
}

func (p *Postgres) AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) error {
	if err := p.ensureRoom(ctx, id); err != nil {
		return fmt.Errorf("create room %s: %w", id, err)
	}
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		string(id), string(user))
	if err != nil {
		return fmt.Errorf("add participant %s to %s: %w", user, id, err)
	}
	return nil
}

func (p *Postgres) AppendHistoryEntry(ctx context.Context, id domain.RoomID, entry domain.HistoryEntry) error {
	if err := p.ensureRoom(ctx, id); err != nil {
		return fmt.Errorf("create room %s: %w", id, err)
	}
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO room_history (room_id, sender_id, message, sent_at) VALUES ($1, $2, $3, $4)",
		string(id), entry.SenderID, entry.Message, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append history to %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) Close(context.Context) error {
	return p.db.Close()
}
