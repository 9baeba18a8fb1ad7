package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const theoryhuntColumns = `id, name, difficulty, difficulty_reason, requirements, details, description,
	message_id, state, server_id, created_at`

// CreateTheoryhunt inserts a theoryhunt together with its commissioners. h.ID is set on success.
func (s *Store) CreateTheoryhunt(ctx context.Context, h *Theoryhunt, commissioners []User) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO theoryhunts (name, difficulty, difficulty_reason, requirements, details,
				description, message_id, state, server_id, created_at)
			VALUES (:name, :difficulty, :difficulty_reason, :requirements, :details,
				:description, :message_id, :state, :server_id, :created_at)
		`
		res, err := tx.NamedExecContext(ctx, query, h)
		if err != nil {
			return err
		}
		if h.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, u := range commissioners {
			if err := upsertUser(ctx, tx, u); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO theoryhunt_commissioners (theoryhunt_id, user_id) VALUES (?, ?)`,
				h.ID, u.DiscordID); err != nil {
				return err
			}
		}
		return nil
	})
}

// TheoryhuntByID returns a theoryhunt.
func (s *Store) TheoryhuntByID(ctx context.Context, id int64) (*Theoryhunt, error) {
	var h Theoryhunt
	if err := s.db.GetContext(ctx, &h, `SELECT `+theoryhuntColumns+` FROM theoryhunts WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

// Theoryhunts returns every theoryhunt in a server, newest first.
func (s *Store) Theoryhunts(ctx context.Context, serverID string) ([]Theoryhunt, error) {
	var hs []Theoryhunt
	err := s.db.SelectContext(ctx, &hs, `SELECT `+theoryhuntColumns+` FROM theoryhunts WHERE server_id = ? ORDER BY id DESC`, serverID)
	return hs, err
}

// UpdateTheoryhunt overwrites every mutable field of a theoryhunt.
func (s *Store) UpdateTheoryhunt(ctx context.Context, h *Theoryhunt) error {
	query := `
		UPDATE theoryhunts SET name = :name, difficulty = :difficulty, difficulty_reason = :difficulty_reason,
			requirements = :requirements, details = :details, description = :description,
			message_id = :message_id, state = :state
		WHERE id = :id
	`
	_, err := s.db.NamedExecContext(ctx, query, h)
	return err
}

// Commissioners returns the mirrored users who commissioned a theoryhunt.
func (s *Store) Commissioners(ctx context.Context, theoryhuntID int64, serverID string) ([]User, error) {
	var users []User
	query := `
		SELECT u.discord_id, u.server_id, u.username, u.global_name, u.nickname, u.avatar, u.bot, u.updated_at
		FROM theoryhunt_commissioners c
		JOIN users u ON u.discord_id = c.user_id AND u.server_id = ?
		WHERE c.theoryhunt_id = ?
		ORDER BY u.discord_id
	`
	err := s.db.SelectContext(ctx, &users, query, serverID, theoryhuntID)
	return users, err
}
