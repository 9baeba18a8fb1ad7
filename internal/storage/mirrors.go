package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Mirrors of platform entities. The platform is authoritative; every write is an idempotent upsert.

func upsertUser(ctx context.Context, ex sqlx.ExtContext, u User) error {
	query := `
		INSERT INTO users (discord_id, server_id, username, global_name, nickname, avatar, bot, updated_at)
		VALUES (:discord_id, :server_id, :username, :global_name, :nickname, :avatar, :bot, :updated_at)
		ON CONFLICT(discord_id, server_id) DO UPDATE SET
			username = excluded.username,
			global_name = excluded.global_name,
			nickname = excluded.nickname,
			avatar = excluded.avatar,
			bot = excluded.bot,
			updated_at = excluded.updated_at
	`
	_, err := sqlx.NamedExecContext(ctx, ex, query, u)
	return err
}

// UpsertUser creates or updates a user mirror.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	return upsertUser(ctx, s.db, u)
}

// UserByID returns a mirrored user.
func (s *Store) UserByID(ctx context.Context, discordID, serverID string) (*User, error) {
	var u User
	query := `SELECT discord_id, server_id, username, global_name, nickname, avatar, bot, updated_at
		FROM users WHERE discord_id = ? AND server_id = ?`
	if err := s.db.GetContext(ctx, &u, query, discordID, serverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UpsertRole creates or updates a role mirror.
func (s *Store) UpsertRole(ctx context.Context, r Role) error {
	query := `
		INSERT INTO roles (discord_id, server_id, name, color, position, updated_at)
		VALUES (:discord_id, :server_id, :name, :color, :position, :updated_at)
		ON CONFLICT(discord_id, server_id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color,
			position = excluded.position,
			updated_at = excluded.updated_at
	`
	_, err := s.db.NamedExecContext(ctx, query, r)
	return err
}

// DeleteRole removes a role mirror.
func (s *Store) DeleteRole(ctx context.Context, discordID, serverID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE discord_id = ? AND server_id = ?`, discordID, serverID)
	return err
}

// UpsertChannel creates or updates a channel mirror.
func (s *Store) UpsertChannel(ctx context.Context, c Channel) error {
	query := `
		INSERT INTO channels (discord_id, server_id, name, parent_id, position, updated_at)
		VALUES (:discord_id, :server_id, :name, :parent_id, :position, :updated_at)
		ON CONFLICT(discord_id, server_id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			position = excluded.position,
			updated_at = excluded.updated_at
	`
	_, err := s.db.NamedExecContext(ctx, query, c)
	return err
}

// DeleteChannel removes a channel mirror.
func (s *Store) DeleteChannel(ctx context.Context, discordID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE discord_id = ?`, discordID)
	return err
}

// UpsertServer creates or updates a server mirror.
func (s *Store) UpsertServer(ctx context.Context, srv Server) error {
	query := `
		INSERT INTO servers (discord_id, name, updated_at)
		VALUES (:discord_id, :name, :updated_at)
		ON CONFLICT(discord_id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
	`
	_, err := s.db.NamedExecContext(ctx, query, srv)
	return err
}
