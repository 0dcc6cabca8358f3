package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/session"
)

// Repository reads published lobbies and persists committed lobby state.
// It is both the hydration Source and a Recorder for the lobby store.
type Repository struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

func NewRepository(pool *pgxpool.Pool, log *logrus.Entry) *Repository {
	return &Repository{pool: pool, log: log.WithField("component", "repository")}
}

type lobbyRow struct {
	ID                 string
	VenueName          string
	VenueNeighbourhood string
	VenueAddress       string
	VenueMapLink       string
	Category           int
	StartTime          time.Time
	EndTime            time.Time
	Capacity           int
	CourtScheduled     bool
	Version            int64
}

type playerRow struct {
	ID          string
	DisplayName string
	Rating      int
	AvatarURL   string
	Team        string
	Confirmed   bool
}

// FetchLobby loads a lobby and its roster.
func (r *Repository) FetchLobby(ctx context.Context, lobbyID string) (session.Session, error) {
	var lr lobbyRow
	q := `
	SELECT
		id, venue_name, venue_neighbourhood, venue_address, venue_map_link,
		category, start_time, end_time, capacity, court_scheduled, version
	FROM lobbies
	WHERE id = $1
	`
	err := r.pool.QueryRow(ctx, q, lobbyID).Scan(
		&lr.ID,
		&lr.VenueName,
		&lr.VenueNeighbourhood,
		&lr.VenueAddress,
		&lr.VenueMapLink,
		&lr.Category,
		&lr.StartTime,
		&lr.EndTime,
		&lr.Capacity,
		&lr.CourtScheduled,
		&lr.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrLobbyNotFound, lobbyID)
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: query lobby: %w", session.ErrFetchFailed, err)
	}

	playersQ := `
	SELECT player_id, display_name, rating, avatar_url, team, confirmed
	FROM lobby_players
	WHERE lobby_id = $1
	ORDER BY position
	`
	rows, err := r.pool.Query(ctx, playersQ, lobbyID)
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: query players: %w", session.ErrFetchFailed, err)
	}
	defer rows.Close()

	var players []playerRow
	for rows.Next() {
		var p playerRow
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Rating, &p.AvatarURL, &p.Team, &p.Confirmed); err != nil {
			return session.Session{}, fmt.Errorf("%w: scan player: %w", session.ErrFetchFailed, err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return session.Session{}, fmt.Errorf("%w: read players: %w", session.ErrFetchFailed, err)
	}

	s, err := session.FromRecord(buildRecord(lr, players))
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: %w", session.ErrFetchFailed, err)
	}
	return s, nil
}

func buildRecord(lr lobbyRow, players []playerRow) session.Record {
	rec := session.Record{
		LobbyID: lr.ID,
		Venue: session.Venue{
			Name:          lr.VenueName,
			Neighbourhood: lr.VenueNeighbourhood,
			Address:       lr.VenueAddress,
			MapLink:       lr.VenueMapLink,
		},
		Category:       lr.Category,
		StartTime:      lr.StartTime,
		EndTime:        lr.EndTime,
		Capacity:       lr.Capacity,
		CourtScheduled: lr.CourtScheduled,
		Roster:         make([]session.Player, 0, len(players)),
		Assignments:    make([]session.AssignmentRecord, 0, len(players)),
		Confirmed:      []string{},
		Version:        uint64(lr.Version),
	}
	for _, p := range players {
		rec.Roster = append(rec.Roster, session.Player{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Rating:      p.Rating,
			AvatarURL:   p.AvatarURL,
		})
		rec.Assignments = append(rec.Assignments, session.AssignmentRecord{PlayerID: p.ID, Team: session.Team(p.Team)})
		if p.Confirmed {
			rec.Confirmed = append(rec.Confirmed, p.ID)
		}
	}
	return rec
}

// Record persists a committed snapshot. Snapshots older than the stored
// version are ignored.
func (r *Repository) Record(ctx context.Context, snap session.Snapshot) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		updateQ := `
		UPDATE lobbies
		SET court_scheduled = $2, version = $3, phase = $4, updated_at = NOW()
		WHERE id = $1 AND version < $3
		`
		tag, err := tx.Exec(ctx, updateQ, snap.LobbyID, snap.CourtScheduled, int64(snap.Version), string(snap.Phase))
		if err != nil {
			return fmt.Errorf("update lobby: %w", err)
		}
		if tag.RowsAffected() == 0 {
			r.log.WithFields(logrus.Fields{
				"lobby_id": snap.LobbyID,
				"version":  snap.Version,
			}).Debug("Skipped outdated snapshot.")
			return nil
		}

		ids := make([]string, 0, len(snap.Players))
		for _, p := range snap.Players {
			ids = append(ids, p.ID)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM lobby_players WHERE lobby_id = $1 AND NOT (player_id = ANY($2))`,
			snap.LobbyID, ids,
		); err != nil {
			return fmt.Errorf("prune players: %w", err)
		}

		upsertQ := `
		INSERT INTO lobby_players (
			lobby_id, player_id, display_name, rating, avatar_url, position, team, confirmed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (lobby_id, player_id)
		DO UPDATE SET
			display_name = EXCLUDED.display_name,
			rating = EXCLUDED.rating,
			avatar_url = EXCLUDED.avatar_url,
			position = EXCLUDED.position,
			team = EXCLUDED.team,
			confirmed = EXCLUDED.confirmed
		`
		for i, p := range snap.Players {
			if _, err := tx.Exec(ctx, upsertQ,
				snap.LobbyID, p.ID, p.DisplayName, p.Rating, p.AvatarURL, i, string(p.Team), p.Confirmed,
			); err != nil {
				return fmt.Errorf("upsert player %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// InsertLobby publishes a lobby with its initial roster.
func (r *Repository) InsertLobby(ctx context.Context, s session.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	q := `
	INSERT INTO lobbies (
		id, venue_name, venue_neighbourhood, venue_address, venue_map_link,
		category, start_time, end_time, capacity, court_scheduled
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, q,
			s.LobbyID,
			s.Venue.Name,
			s.Venue.Neighbourhood,
			s.Venue.Address,
			s.Venue.MapLink,
			s.Category,
			s.StartTime,
			s.EndTime,
			s.Capacity,
			s.CourtScheduled,
		); err != nil {
			return fmt.Errorf("insert lobby: %w", err)
		}
		for i, p := range s.Roster {
			if _, err := tx.Exec(ctx,
				`INSERT INTO lobby_players (lobby_id, player_id, display_name, rating, avatar_url, position, team, confirmed)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				s.LobbyID, p.ID, p.DisplayName, p.Rating, p.AvatarURL, i, string(s.Assignments[p.ID]), s.Confirmed.Has(p.ID),
			); err != nil {
				return fmt.Errorf("insert player %s: %w", p.ID, err)
			}
		}
		return nil
	})
}
