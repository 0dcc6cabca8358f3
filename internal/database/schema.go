package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema holds the tables owned by this service. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS lobbies (
	id                  TEXT PRIMARY KEY,
	venue_name          TEXT NOT NULL,
	venue_neighbourhood TEXT NOT NULL DEFAULT '',
	venue_address       TEXT NOT NULL DEFAULT '',
	venue_map_link      TEXT NOT NULL DEFAULT '',
	category            INT NOT NULL,
	start_time          TIMESTAMPTZ NOT NULL,
	end_time            TIMESTAMPTZ NOT NULL,
	capacity            INT NOT NULL,
	court_scheduled     BOOLEAN NOT NULL DEFAULT FALSE,
	version             BIGINT NOT NULL DEFAULT 0,
	phase               TEXT NOT NULL DEFAULT 'assembling',
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS lobby_players (
	lobby_id     TEXT NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
	player_id    TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	rating       INT NOT NULL DEFAULT 0,
	avatar_url   TEXT NOT NULL DEFAULT '',
	position     INT NOT NULL,
	team         TEXT NOT NULL DEFAULT 'unassigned',
	confirmed    BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (lobby_id, player_id)
);

CREATE TABLE IF NOT EXISTS lobby_events (
	id          UUID PRIMARY KEY,
	lobby_id    TEXT NOT NULL,
	version     BIGINT NOT NULL,
	phase       TEXT NOT NULL,
	payload     JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS lobby_events_lobby_idx ON lobby_events (lobby_id, version);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
