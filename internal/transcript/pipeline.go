// Package transcript exports a channel's message history into the store, page by page,
// from a persisted cursor that survives restarts.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/rs/zerolog"

	"github.com/user/ticketbot/internal/alert"
	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/pkg/logger"
)

const (
	defaultPageSize      = 100
	defaultProgressEvery = 1000
)

// Store is the persistence the pipeline needs.
type Store interface {
	TranscriptSlugExists(ctx context.Context, slug string) (bool, error)
	CreateTranscript(ctx context.Context, t *storage.Transcript, q *storage.QueuedTranscript) error
	QueuedTranscripts(ctx context.Context) ([]storage.QueuedTranscript, error)
	TranscriptByID(ctx context.Context, id int64) (*storage.Transcript, error)
	CommitTranscriptPage(ctx context.Context, p storage.PageCommit) error
	FinishTranscript(ctx context.Context, queueID, transcriptID int64, at time.Time) error
	AbandonTranscript(ctx context.Context, queueID int64) error
	MarkTicketDeleted(ctx context.Context, channelID string) (int64, error)
}

// Options tunes the pipeline.
type Options struct {
	PageSize      int
	ProgressEvery int
	LogChannelID  string // completed transcripts are announced here when set
	Now           func() time.Time
}

// StartRequest describes a transcript to start.
type StartRequest struct {
	ChannelID string
	// StartID is the initial cursor: only messages strictly older are exported.
	// Empty means the newest message of the channel.
	StartID string
	// UpTo is an exclusive lower bound; "" exports to the start of history.
	UpTo              string
	ProgressChannelID string
	ProgressMessageID string
	TranscriberID     string
	// DeleteChannel removes the channel once the transcript completes.
	DeleteChannel bool
}

// Pipeline runs transcript jobs, one goroutine per job.
type Pipeline struct {
	store    Store
	platform platform.Platform
	alerts   alert.Notifier
	opts     Options
	log      zerolog.Logger

	mu      sync.Mutex
	running map[int64]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a transcript pipeline.
func New(store Store, plat platform.Platform, alerts alert.Notifier, opts Options) *Pipeline {
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = defaultPageSize
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if alerts == nil {
		alerts = alert.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:    store,
		platform: plat,
		alerts:   alerts,
		opts:     opts,
		log:      logger.Component("transcript"),
		running:  make(map[int64]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start records a new transcript and its cursor, then exports it in the background.
func (p *Pipeline) Start(ctx context.Context, req StartRequest) (*storage.Transcript, error) {
	ch, err := p.platform.Channel(ctx, req.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel %s: %w", req.ChannelID, err)
	}

	now := p.opts.Now().UTC()
	q := &storage.QueuedTranscript{
		ChannelID:     ch.ID,
		Latest:        req.StartID,
		UpTo:          req.UpTo,
		BotReplyID:    req.ProgressMessageID,
		BotChannelID:  req.ProgressChannelID,
		DeleteChannel: req.DeleteChannel,
		CreatedAt:     now,
	}

	var t *storage.Transcript
	// a slug can be taken between the check and the insert
	for attempt := 0; attempt < 3; attempt++ {
		slug, err := p.allocateSlug(ctx, ch, now)
		if err != nil {
			return nil, err
		}
		t = &storage.Transcript{
			Slug:          slug,
			ChannelID:     ch.ID,
			ChannelName:   ch.Name,
			ServerID:      ch.GuildID,
			TranscriberID: req.TranscriberID,
			CreatedAt:     now,
		}
		err = p.store.CreateTranscript(ctx, t, q)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create transcript: %w", err)
		}
		t = nil
	}
	if t == nil {
		return nil, fmt.Errorf("failed to allocate a transcript slug for %s", ch.Name)
	}

	p.log.Info().Str("slug", t.Slug).Str("channel_id", ch.ID).Str("up_to", req.UpTo).Msg("Transcript started")
	p.spawn(*q)
	return t, nil
}

// Resume restarts every persisted job. It is called once the platform is ready.
func (p *Pipeline) Resume(ctx context.Context) (int, error) {
	qs, err := p.store.QueuedTranscripts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load queued transcripts: %w", err)
	}
	for _, q := range qs {
		p.spawn(q)
	}
	if len(qs) > 0 {
		p.log.Info().Int("count", len(qs)).Msg("Resumed queued transcripts")
	}
	return len(qs), nil
}

// Wait blocks until every running job has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Stop cancels running jobs and waits for them. Cursors stay persisted.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) spawn(q storage.QueuedTranscript) {
	p.mu.Lock()
	if p.running[q.ID] {
		p.mu.Unlock()
		return
	}
	p.running[q.ID] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.running, q.ID)
			p.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Interface("panic", r).Int64("queue_id", q.ID).Msg("Transcript job panicked")
			}
		}()
		p.run(p.ctx, q)
	}()
}

func (p *Pipeline) run(ctx context.Context, q storage.QueuedTranscript) {
	log := p.log.With().Int64("transcript_id", q.TranscriptID).Str("channel_id", q.ChannelID).Logger()

	t, err := p.store.TranscriptByID(ctx, q.TranscriptID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load transcript")
		return
	}

	if _, err := p.platform.Channel(ctx, q.ChannelID); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			p.abandon(ctx, q, t, log)
			return
		}
		log.Error().Err(err).Msg("Failed to resolve transcript channel")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		done, err := p.step(ctx, &q, t)
		if err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				p.abandon(ctx, q, t, log)
				return
			}
			log.Error().Err(err).Str("cursor", q.Latest).Msg("Transcript step failed, cursor kept for next start")
			return
		}
		if done {
			p.finish(ctx, q, t, log)
			return
		}
	}
}

// step fetches and commits one page. It reports whether the export is complete.
func (p *Pipeline) step(ctx context.Context, q *storage.QueuedTranscript, t *storage.Transcript) (bool, error) {
	msgs, err := p.platform.Messages(ctx, q.ChannelID, q.Latest, p.opts.PageSize)
	if err != nil {
		return false, fmt.Errorf("failed to fetch messages before %s: %w", q.Latest, err)
	}

	var (
		page         []storage.TranscriptMessage
		authors      = make(map[string]platform.User)
		order        []string
		cursor       = q.Latest
		reachedBound bool
	)
	for _, m := range msgs {
		if q.UpTo != "" && platform.CompareIDs(m.ID, q.UpTo) <= 0 {
			reachedBound = true
			break
		}
		page = append(page, normalize(m))
		if _, seen := authors[m.Author.ID]; !seen {
			authors[m.Author.ID] = m.Author
			order = append(order, m.Author.ID)
		}
		cursor = m.ID
	}

	if len(page) > 0 {
		commit := storage.PageCommit{
			QueueID:      q.ID,
			TranscriptID: t.ID,
			Latest:       cursor,
			Fetched:      q.Fetched + len(page),
			Users:        p.resolveAuthors(ctx, t.ServerID, order, authors),
			Messages:     page,
		}
		if err := p.store.CommitTranscriptPage(ctx, commit); err != nil {
			return false, fmt.Errorf("failed to commit page: %w", err)
		}

		previous := q.Fetched
		q.Latest = cursor
		q.Fetched = commit.Fetched
		if previous/p.opts.ProgressEvery != q.Fetched/p.opts.ProgressEvery {
			p.progress(ctx, *q, fmt.Sprintf("Transcribing... %d messages saved so far.", q.Fetched))
		}
	}

	return len(page) == 0 || reachedBound || len(msgs) < p.opts.PageSize, nil
}

// resolveAuthors returns the current profile of each author, falling back to
// what the message carried when the member cannot be resolved.
func (p *Pipeline) resolveAuthors(ctx context.Context, serverID string, order []string, authors map[string]platform.User) []storage.User {
	now := p.opts.Now().UTC()
	users := make([]storage.User, 0, len(order))
	for _, id := range order {
		u := authors[id]
		user := storage.User{
			DiscordID:  u.ID,
			ServerID:   serverID,
			Username:   u.Username,
			GlobalName: u.GlobalName,
			Avatar:     u.Avatar,
			Bot:        u.Bot,
			UpdatedAt:  now,
		}
		if m, err := p.platform.Member(ctx, serverID, id); err == nil {
			user.Username = m.User.Username
			user.GlobalName = m.User.GlobalName
			user.Nickname = m.Nick
			if m.Avatar != "" {
				user.Avatar = m.Avatar
			} else {
				user.Avatar = m.User.Avatar
			}
		} else if !errors.Is(err, platform.ErrNotFound) {
			p.log.Debug().Err(err).Str("user_id", id).Msg("Failed to resolve author profile")
		}
		users = append(users, user)
	}
	return users
}

func (p *Pipeline) finish(ctx context.Context, q storage.QueuedTranscript, t *storage.Transcript, log zerolog.Logger) {
	if err := p.store.FinishTranscript(ctx, q.ID, t.ID, p.opts.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("Failed to complete transcript")
		return
	}
	log.Info().Str("slug", t.Slug).Int("fetched", q.Fetched).Msg("Transcript completed")

	p.progress(ctx, q, fmt.Sprintf("Transcript complete: %d messages saved as `%s`.", q.Fetched, t.Slug))

	if p.opts.LogChannelID != "" {
		_, err := p.platform.SendMessage(ctx, p.opts.LogChannelID, platform.MessageSend{
			Embeds: []platform.Embed{{
				Title: "Transcript saved",
				Fields: []platform.EmbedField{
					{Name: "Channel", Value: "#" + t.ChannelName, Inline: true},
					{Name: "Messages", Value: strconv.Itoa(q.Fetched), Inline: true},
					{Name: "Slug", Value: t.Slug, Inline: true},
					{Name: "Transcriber", Value: platform.MentionUser(t.TranscriberID), Inline: true},
				},
			}},
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to announce transcript")
		}
	}

	if !q.DeleteChannel {
		return
	}
	if err := p.platform.DeleteChannel(ctx, q.ChannelID); err != nil && !errors.Is(err, platform.ErrNotFound) {
		log.Error().Err(err).Msg("Failed to delete transcribed channel")
		alert.Safe(ctx, p.alerts, fmt.Sprintf("Transcript `%s` saved but channel %s could not be deleted: %v", t.Slug, q.ChannelID, err))
		return
	}
	if _, err := p.store.MarkTicketDeleted(ctx, q.ChannelID); err != nil {
		log.Error().Err(err).Msg("Failed to mark ticket deleted")
	}
}

func (p *Pipeline) abandon(ctx context.Context, q storage.QueuedTranscript, t *storage.Transcript, log zerolog.Logger) {
	log.Warn().Str("slug", t.Slug).Msg("Transcript channel no longer exists, abandoning")
	if err := p.store.AbandonTranscript(ctx, q.ID); err != nil {
		log.Error().Err(err).Msg("Failed to remove abandoned transcript cursor")
	}
	alert.Safe(ctx, p.alerts, fmt.Sprintf("Transcript `%s` abandoned: channel %s no longer exists.", t.Slug, q.ChannelID))
}

func (p *Pipeline) progress(ctx context.Context, q storage.QueuedTranscript, text string) {
	if q.BotChannelID == "" || q.BotReplyID == "" {
		return
	}
	if err := p.platform.EditMessage(ctx, q.BotChannelID, q.BotReplyID, platform.MessageSend{Content: text}); err != nil {
		p.log.Debug().Err(err).Int64("transcript_id", q.TranscriptID).Msg("Failed to update transcript progress")
	}
}

// allocateSlug returns the first free candidate of name, name-id, name-id-unix and a random id.
func (p *Pipeline) allocateSlug(ctx context.Context, ch *platform.Channel, now time.Time) (string, error) {
	name := slugify(ch.Name)
	candidates := []string{
		name,
		name + "-" + ch.ID,
		fmt.Sprintf("%s-%s-%d", name, ch.ID, now.Unix()),
	}
	for _, c := range candidates {
		taken, err := p.store.TranscriptSlugExists(ctx, c)
		if err != nil {
			return "", fmt.Errorf("failed to check slug %s: %w", c, err)
		}
		if !taken {
			return c, nil
		}
	}
	return uuid.NewString(), nil
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "transcript"
	}
	return s
}

func normalize(m *platform.Message) storage.TranscriptMessage {
	tm := storage.TranscriptMessage{
		MessageID:   m.ID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		Content:     m.Content,
		CreatedAt:   m.Timestamp.UTC(),
		ReplyTo:     m.ReferenceID,
		Attachments: raw(m.RawAttachments),
		Reactions:   raw(m.RawReactions),
		Embeds:      raw(m.RawEmbeds),
		Components:  raw(m.RawComponents),
		Mentions:    raw(m.RawMentions),
		Stickers:    raw(m.RawStickers),
	}
	if m.EditedAt != nil {
		tm.EditedAt = sql.NullTime{Time: m.EditedAt.UTC(), Valid: true}
	}
	return tm
}

func raw(r json.RawMessage) types.JSONText {
	if len(r) == 0 {
		return types.JSONText("null")
	}
	return types.JSONText(r)
}
