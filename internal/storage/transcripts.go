package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

const transcriptColumns = `id, slug, channel_id, channel_name, server_id, transcriber_id, created_at, completed_at, message_count`

const queuedColumns = `id, transcript_id, channel_id, latest, up_to, fetched, bot_reply_id, bot_channel_id, delete_channel, created_at`

// TranscriptSlugExists reports whether a slug is taken.
func (s *Store) TranscriptSlugExists(ctx context.Context, slug string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM transcripts WHERE slug = ?`, slug)
	return count > 0, err
}

// CreateTranscript inserts a transcript and the cursor that drives it.
// t.ID, q.ID and q.TranscriptID are set on success.
func (s *Store) CreateTranscript(ctx context.Context, t *Transcript, q *QueuedTranscript) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO transcripts (slug, channel_id, channel_name, server_id, transcriber_id, created_at)
			VALUES (:slug, :channel_id, :channel_name, :server_id, :transcriber_id, :created_at)
		`, t)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		q.TranscriptID = t.ID
		res, err = tx.NamedExecContext(ctx, `
			INSERT INTO queued_transcripts (transcript_id, channel_id, latest, up_to, fetched,
				bot_reply_id, bot_channel_id, delete_channel, created_at)
			VALUES (:transcript_id, :channel_id, :latest, :up_to, :fetched,
				:bot_reply_id, :bot_channel_id, :delete_channel, :created_at)
		`, q)
		if err != nil {
			return err
		}
		q.ID, err = res.LastInsertId()
		return err
	})
}

// QueuedTranscripts returns every in-progress transcript cursor.
func (s *Store) QueuedTranscripts(ctx context.Context) ([]QueuedTranscript, error) {
	var qs []QueuedTranscript
	err := s.db.SelectContext(ctx, &qs, `SELECT `+queuedColumns+` FROM queued_transcripts ORDER BY id`)
	return qs, err
}

// DeletionQueued reports whether a transcript that deletes channelID on
// completion is still in progress.
func (s *Store) DeletionQueued(ctx context.Context, channelID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queued_transcripts WHERE channel_id = ? AND delete_channel = 1`, channelID)
	return n > 0, err
}

// QueuedTranscript returns one transcript cursor.
func (s *Store) QueuedTranscript(ctx context.Context, id int64) (*QueuedTranscript, error) {
	var q QueuedTranscript
	if err := s.db.GetContext(ctx, &q, `SELECT `+queuedColumns+` FROM queued_transcripts WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

// PageCommit is everything persisted for one fetched page of a transcript.
type PageCommit struct {
	QueueID      int64
	TranscriptID int64
	Latest       string
	Fetched      int
	Users        []User
	Messages     []TranscriptMessage
}

// CommitTranscriptPage atomically advances the cursor, mirrors the page's authors,
// stores its messages and attaches the authors as participants.
// Messages already stored for the transcript are ignored.
func (s *Store) CommitTranscriptPage(ctx context.Context, p PageCommit) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queued_transcripts SET latest = ?, fetched = ? WHERE id = ?`,
			p.Latest, p.Fetched, p.QueueID); err != nil {
			return err
		}

		for _, u := range p.Users {
			if err := upsertUser(ctx, tx, u); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO transcript_participants (transcript_id, user_id) VALUES (?, ?)`,
				p.TranscriptID, u.DiscordID); err != nil {
				return err
			}
		}

		if len(p.Messages) == 0 {
			return nil
		}
		for i := range p.Messages {
			p.Messages[i].TranscriptID = p.TranscriptID
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT OR IGNORE INTO transcript_messages (transcript_id, message_id, channel_id, author_id, content,
				created_at, edited_at, reply_to, attachments, reactions, embeds, components, mentions, stickers)
			VALUES (:transcript_id, :message_id, :channel_id, :author_id, :content,
				:created_at, :edited_at, :reply_to, :attachments, :reactions, :embeds, :components, :mentions, :stickers)
		`, p.Messages)
		return err
	})
}

// FinishTranscript removes the cursor and stamps the transcript as complete.
func (s *Store) FinishTranscript(ctx context.Context, queueID, transcriptID int64, at time.Time) error {
	return s.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queued_transcripts WHERE id = ?`, queueID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE transcripts SET completed_at = ?,
				message_count = (SELECT COUNT(*) FROM transcript_messages WHERE transcript_id = ?)
			WHERE id = ?
		`, at, transcriptID, transcriptID)
		return err
	})
}

// AbandonTranscript removes a cursor without completing its transcript.
func (s *Store) AbandonTranscript(ctx context.Context, queueID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queued_transcripts WHERE id = ?`, queueID)
	return err
}

// TranscriptBySlug returns a transcript.
func (s *Store) TranscriptBySlug(ctx context.Context, slug string) (*Transcript, error) {
	var t Transcript
	if err := s.db.GetContext(ctx, &t, `SELECT `+transcriptColumns+` FROM transcripts WHERE slug = ?`, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TranscriptByID returns a transcript.
func (s *Store) TranscriptByID(ctx context.Context, id int64) (*Transcript, error) {
	var t Transcript
	if err := s.db.GetContext(ctx, &t, `SELECT `+transcriptColumns+` FROM transcripts WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TranscriptMessages returns up to limit stored messages older than before (all if before is empty),
// newest first.
func (s *Store) TranscriptMessages(ctx context.Context, transcriptID int64, before string, limit int) ([]TranscriptMessage, error) {
	var msgs []TranscriptMessage
	query := `SELECT transcript_id, message_id, channel_id, author_id, content, created_at, edited_at, reply_to,
			attachments, reactions, embeds, components, mentions, stickers
		FROM transcript_messages
		WHERE transcript_id = ? AND (? = '' OR CAST(message_id AS INTEGER) < CAST(? AS INTEGER))
		ORDER BY CAST(message_id AS INTEGER) DESC
		LIMIT ?`
	err := s.db.SelectContext(ctx, &msgs, query, transcriptID, before, before, limit)
	return msgs, err
}

// TranscriptMessageCount returns the number of stored messages of a transcript.
func (s *Store) TranscriptMessageCount(ctx context.Context, transcriptID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM transcript_messages WHERE transcript_id = ?`, transcriptID)
	return n, err
}

// TranscriptParticipants returns the mirrored authors of a transcript.
func (s *Store) TranscriptParticipants(ctx context.Context, transcriptID int64) ([]User, error) {
	var users []User
	query := `
		SELECT u.discord_id, u.server_id, u.username, u.global_name, u.nickname, u.avatar, u.bot, u.updated_at
		FROM transcript_participants p
		JOIN transcripts t ON t.id = p.transcript_id
		JOIN users u ON u.discord_id = p.user_id AND u.server_id = t.server_id
		WHERE p.transcript_id = ?
		ORDER BY u.discord_id
	`
	err := s.db.SelectContext(ctx, &users, query, transcriptID)
	return users, err
}
