package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store handles all database operations of the bot.
type Store struct {
	db *Database
}

// NewStore creates a new store.
func NewStore(db *Database) *Store {
	return &Store{db: db}
}

const ticketColumns = `id, channel_id, name, type, status, creator_id, server_id, theoryhunt_id,
	created_at, last_message, last_rename, last_verifier_ping, deleted`

// CreateTicket inserts a ticket, mirrors its creator and records the creator as first contributor.
// t.ID is set on success.
func (s *Store) CreateTicket(ctx context.Context, t *Ticket, creator User) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertUser(ctx, tx, creator); err != nil {
			return err
		}
		id, err := insertTicket(ctx, tx, t)
		if err != nil {
			return err
		}
		t.ID = id
		return addContributor(ctx, tx, id, creator.DiscordID)
	})
}

// UpsertTicket converts an existing channel into a ticket. If a live ticket already
// tracks the channel its type, status and creator are overwritten.
func (s *Store) UpsertTicket(ctx context.Context, t *Ticket, creator User) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertUser(ctx, tx, creator); err != nil {
			return err
		}

		var existing int64
		err := tx.GetContext(ctx, &existing, `SELECT id FROM tickets WHERE channel_id = ? AND deleted = 0`, t.ChannelID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id, err := insertTicket(ctx, tx, t)
			if err != nil {
				return err
			}
			t.ID = id
		case err != nil:
			return err
		default:
			t.ID = existing
			query := `UPDATE tickets SET name = ?, type = ?, status = ?, creator_id = ? WHERE id = ?`
			if _, err := tx.ExecContext(ctx, query, t.Name, t.Type, t.Status, t.CreatorID, existing); err != nil {
				return err
			}
		}
		return addContributor(ctx, tx, t.ID, creator.DiscordID)
	})
}

func insertTicket(ctx context.Context, tx *sqlx.Tx, t *Ticket) (int64, error) {
	query := `
		INSERT INTO tickets (channel_id, name, type, status, creator_id, server_id, theoryhunt_id,
			created_at, last_message, last_rename, last_verifier_ping, deleted)
		VALUES (:channel_id, :name, :type, :status, :creator_id, :server_id, :theoryhunt_id,
			:created_at, :last_message, :last_rename, :last_verifier_ping, 0)
	`
	res, err := tx.NamedExecContext(ctx, query, t)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("channel %s already has a ticket: %w", t.ChannelID, ErrDuplicate)
		}
		return 0, err
	}
	return res.LastInsertId()
}

// TicketByChannel returns the live ticket tracking a channel.
func (s *Store) TicketByChannel(ctx context.Context, channelID string) (*Ticket, error) {
	var t Ticket
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE channel_id = ? AND deleted = 0`
	if err := s.db.GetContext(ctx, &t, query, channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TicketByID returns a ticket by id, deleted or not.
func (s *Store) TicketByID(ctx context.Context, id int64) (*Ticket, error) {
	var t Ticket
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	if err := s.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// LiveTickets returns every ticket whose channel still exists.
func (s *Store) LiveTickets(ctx context.Context) ([]Ticket, error) {
	var tickets []Ticket
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE deleted = 0 ORDER BY id`
	err := s.db.SelectContext(ctx, &tickets, query)
	return tickets, err
}

// TicketsByTheoryhunt returns the live tickets linked to a theoryhunt.
func (s *Store) TicketsByTheoryhunt(ctx context.Context, theoryhuntID int64) ([]Ticket, error) {
	var tickets []Ticket
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE theoryhunt_id = ? AND deleted = 0 ORDER BY id`
	err := s.db.SelectContext(ctx, &tickets, query, theoryhuntID)
	return tickets, err
}

// TransitionTicket moves a live ticket from one status to another.
// It reports false without error when the ticket was not in the from status.
func (s *Store) TransitionTicket(ctx context.Context, id int64, from, to TicketStatus) (bool, error) {
	query := `UPDATE tickets SET status = ? WHERE id = ? AND status = ? AND deleted = 0`
	res, err := s.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReopenTicket moves a ticket from CLOSED back to OPEN and clears its verifications.
func (s *Store) ReopenTicket(ctx context.Context, id int64) (bool, error) {
	var moved bool
	err := s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tickets SET status = ? WHERE id = ? AND status = ? AND deleted = 0`,
			StatusOpen, id, StatusClosed)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		moved = true
		_, err = tx.ExecContext(ctx, `DELETE FROM verifications WHERE ticket_id = ?`, id)
		return err
	})
	return moved, err
}

// RenameTicket stores a new name and the time of the rename.
func (s *Store) RenameTicket(ctx context.Context, id int64, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET name = ?, last_rename = ? WHERE id = ?`, name, at, id)
	return err
}

// SyncTicketName stores a name changed outside the bot without touching the rename window.
func (s *Store) SyncTicketName(ctx context.Context, channelID, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET name = ? WHERE channel_id = ? AND deleted = 0`, name, channelID)
	return err
}

// SetTicketLastMessage stores the activity timestamp used by the inactivity sweep.
func (s *Store) SetTicketLastMessage(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET last_message = ? WHERE id = ?`, at, id)
	return err
}

// SetTicketVerifierPing stores when verifiers were last pinged for a ticket.
func (s *Store) SetTicketVerifierPing(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET last_verifier_ping = ? WHERE id = ?`, at, id)
	return err
}

// SetTicketCreator reassigns the creator and makes sure they are a contributor.
func (s *Store) SetTicketCreator(ctx context.Context, id int64, creator User) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertUser(ctx, tx, creator); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tickets SET creator_id = ? WHERE id = ?`, creator.DiscordID, id); err != nil {
			return err
		}
		return addContributor(ctx, tx, id, creator.DiscordID)
	})
}

// SetTicketTheoryhunt links a ticket to a theoryhunt.
func (s *Store) SetTicketTheoryhunt(ctx context.Context, id, theoryhuntID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET theoryhunt_id = ? WHERE id = ?`, theoryhuntID, id)
	return err
}

// MarkTicketDeleted soft-deletes the live ticket of a destroyed channel.
// It returns the number of tickets affected.
func (s *Store) MarkTicketDeleted(ctx context.Context, channelID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET deleted = 1, status = ? WHERE channel_id = ? AND deleted = 0`,
		StatusDeleted, channelID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddContributor mirrors a user and adds them to a ticket's contributors.
func (s *Store) AddContributor(ctx context.Context, ticketID int64, user User) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertUser(ctx, tx, user); err != nil {
			return err
		}
		return addContributor(ctx, tx, ticketID, user.DiscordID)
	})
}

// RemoveContributor removes a user from a ticket's contributors.
func (s *Store) RemoveContributor(ctx context.Context, ticketID int64, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ticket_contributors WHERE ticket_id = ? AND user_id = ?`, ticketID, userID)
	return err
}

// Contributors returns the user ids contributing to a ticket.
func (s *Store) Contributors(ctx context.Context, ticketID int64) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM ticket_contributors WHERE ticket_id = ? ORDER BY user_id`, ticketID)
	return ids, err
}

func addContributor(ctx context.Context, tx *sqlx.Tx, ticketID int64, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO ticket_contributors (ticket_id, user_id) VALUES (?, ?)`, ticketID, userID)
	return err
}

// Verifications returns a ticket's verifications, oldest first.
func (s *Store) Verifications(ctx context.Context, ticketID int64) ([]Verification, error) {
	var vs []Verification
	query := `SELECT id, ticket_id, verifier_id, channel_id, channel_name, created_at
		FROM verifications WHERE ticket_id = ? ORDER BY id`
	err := s.db.SelectContext(ctx, &vs, query, ticketID)
	return vs, err
}

// AddVerification records a verification. A second verification by the same verifier
// fails with ErrDuplicate.
func (s *Store) AddVerification(ctx context.Context, v *Verification, verifier User) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertUser(ctx, tx, verifier); err != nil {
			return err
		}
		query := `
			INSERT INTO verifications (ticket_id, verifier_id, channel_id, channel_name, created_at)
			VALUES (:ticket_id, :verifier_id, :channel_id, :channel_name, :created_at)
		`
		res, err := tx.NamedExecContext(ctx, query, v)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		v.ID, err = res.LastInsertId()
		return err
	})
}
