package storage

import (
	"context"
)

// UpsertDirectory creates a directory or points an existing one at a new message.
func (s *Store) UpsertDirectory(ctx context.Context, d *TicketDirectory) error {
	query := `
		INSERT INTO ticket_directories (channel_id, message_id, server_id, type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id, server_id, type) DO UPDATE SET
			message_id = excluded.message_id
	`
	if _, err := s.db.ExecContext(ctx, query, d.ChannelID, d.MessageID, d.ServerID, d.Type); err != nil {
		return err
	}
	return s.db.GetContext(ctx, &d.ID,
		`SELECT id FROM ticket_directories WHERE channel_id = ? AND server_id = ? AND type = ?`,
		d.ChannelID, d.ServerID, d.Type)
}

// Directories returns every ticket directory.
func (s *Store) Directories(ctx context.Context) ([]TicketDirectory, error) {
	var dirs []TicketDirectory
	err := s.db.SelectContext(ctx, &dirs, `SELECT id, channel_id, message_id, server_id, type FROM ticket_directories ORDER BY id`)
	return dirs, err
}

// DirectoryFor returns the directory of a type in a channel, if any.
func (s *Store) DirectoryFor(ctx context.Context, channelID, serverID, ticketType string) (*TicketDirectory, error) {
	var dirs []TicketDirectory
	err := s.db.SelectContext(ctx, &dirs,
		`SELECT id, channel_id, message_id, server_id, type FROM ticket_directories
		WHERE channel_id = ? AND server_id = ? AND type = ?`,
		channelID, serverID, ticketType)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, ErrNotFound
	}
	return &dirs[0], nil
}

// DeleteDirectoryByMessage removes the directory rendered in a deleted message.
func (s *Store) DeleteDirectoryByMessage(ctx context.Context, messageID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ticket_directories WHERE message_id = ?`, messageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
