// Package theoryhunt manages theoryhunt proposals and their rendered summary messages.
package theoryhunt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/pkg/logger"
)

// Editable fields accepted by Update.
const (
	FieldName             = "name"
	FieldDifficulty       = "difficulty"
	FieldDifficultyReason = "difficulty_reason"
	FieldRequirements     = "requirements"
	FieldDetails          = "details"
	FieldDescription      = "description"
)

// Fields lists the editable fields in display order.
var Fields = []string{FieldName, FieldDifficulty, FieldDifficultyReason, FieldRequirements, FieldDetails, FieldDescription}

// ValidationError is a rejected input. Its message is shown to the actor.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UserMessage returns the text to show the actor.
func (e *ValidationError) UserMessage() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Store is the persistence the service needs.
type Store interface {
	CreateTheoryhunt(ctx context.Context, h *storage.Theoryhunt, commissioners []storage.User) error
	TheoryhuntByID(ctx context.Context, id int64) (*storage.Theoryhunt, error)
	UpdateTheoryhunt(ctx context.Context, h *storage.Theoryhunt) error
	Commissioners(ctx context.Context, theoryhuntID int64, serverID string) ([]storage.User, error)
	TicketByChannel(ctx context.Context, channelID string) (*storage.Ticket, error)
	SetTicketTheoryhunt(ctx context.Context, id, theoryhuntID int64) error
	TicketsByTheoryhunt(ctx context.Context, theoryhuntID int64) ([]storage.Ticket, error)
}

// Options configures where summaries are posted.
type Options struct {
	OpenChannelID   string
	ClosedChannelID string
	Now             func() time.Time
}

// Service creates and edits theoryhunts, keeping their summary message in sync.
type Service struct {
	store    Store
	platform platform.Platform
	opts     Options
	log      zerolog.Logger
}

// NewService creates a theoryhunt service.
func NewService(store Store, plat platform.Platform, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, platform: plat, opts: opts, log: logger.Component("theoryhunt")}
}

// Draft is a new theoryhunt.
type Draft struct {
	GuildID          string
	Name             string
	Difficulty       string
	DifficultyReason string
	Requirements     string
	Details          string
	Description      string
	Commissioners    []platform.Member
}

// ValidateDifficulty checks that a difficulty is a single uppercase letter.
func ValidateDifficulty(d string) error {
	r := []rune(d)
	if len(r) != 1 || !unicode.IsUpper(r[0]) {
		return invalid("Difficulty must be a single uppercase letter, got %q.", d)
	}
	return nil
}

// Create stores a theoryhunt and posts its summary in the open channel.
func (s *Service) Create(ctx context.Context, d Draft) (*storage.Theoryhunt, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, invalid("A theoryhunt needs a name.")
	}
	if err := ValidateDifficulty(d.Difficulty); err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	h := &storage.Theoryhunt{
		Name:             name,
		Difficulty:       d.Difficulty,
		DifficultyReason: strings.TrimSpace(d.DifficultyReason),
		Requirements:     strings.TrimSpace(d.Requirements),
		Details:          strings.TrimSpace(d.Details),
		Description:      strings.TrimSpace(d.Description),
		State:            storage.TheoryhuntOpen,
		ServerID:         d.GuildID,
		CreatedAt:        now,
	}
	commissioners := make([]storage.User, 0, len(d.Commissioners))
	for _, m := range d.Commissioners {
		commissioners = append(commissioners, storage.User{
			DiscordID:  m.User.ID,
			ServerID:   d.GuildID,
			Username:   m.User.Username,
			GlobalName: m.User.GlobalName,
			Nickname:   m.Nick,
			Avatar:     m.User.Avatar,
			UpdatedAt:  now,
		})
	}
	if err := s.store.CreateTheoryhunt(ctx, h, commissioners); err != nil {
		return nil, fmt.Errorf("failed to create theoryhunt: %w", err)
	}

	if err := s.post(ctx, h); err != nil {
		return h, err
	}
	s.log.Info().Int64("theoryhunt_id", h.ID).Str("name", h.Name).Msg("Theoryhunt created")
	return h, nil
}

// Get returns a theoryhunt.
func (s *Service) Get(ctx context.Context, id int64) (*storage.Theoryhunt, error) {
	h, err := s.store.TheoryhuntByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid("Theoryhunt #%d does not exist.", id)
	}
	return h, err
}

// Update changes one field and re-renders the summary.
func (s *Service) Update(ctx context.Context, id int64, field, value string) (*storage.Theoryhunt, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	value = strings.TrimSpace(value)
	switch field {
	case FieldName:
		if value == "" {
			return nil, invalid("A theoryhunt needs a name.")
		}
		h.Name = value
	case FieldDifficulty:
		if err := ValidateDifficulty(value); err != nil {
			return nil, err
		}
		h.Difficulty = value
	case FieldDifficultyReason:
		h.DifficultyReason = value
	case FieldRequirements:
		h.Requirements = value
	case FieldDetails:
		h.Details = value
	case FieldDescription:
		h.Description = value
	default:
		return nil, invalid("Unknown field %q. Editable fields: %s.", field, strings.Join(Fields, ", "))
	}

	if err := s.store.UpdateTheoryhunt(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to update theoryhunt: %w", err)
	}
	return h, s.sync(ctx, h)
}

// SetState opens or closes a theoryhunt. The old summary is deleted and a new one
// is posted in the channel of the new state.
func (s *Service) SetState(ctx context.Context, id int64, state storage.TheoryhuntState) (*storage.Theoryhunt, error) {
	if state != storage.TheoryhuntOpen && state != storage.TheoryhuntClosed {
		return nil, invalid("Unknown theoryhunt state %q.", state)
	}
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.State == state {
		return nil, invalid("Theoryhunt #%d is already %s.", id, strings.ToLower(string(state)))
	}

	if h.MessageID != "" {
		err := s.platform.DeleteMessage(ctx, s.channelFor(h.State), h.MessageID)
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			s.log.Warn().Err(err).Int64("theoryhunt_id", h.ID).Msg("Failed to delete old summary")
		}
	}
	h.State = state
	h.MessageID = ""
	if err := s.post(ctx, h); err != nil {
		return h, err
	}
	s.log.Info().Int64("theoryhunt_id", h.ID).Str("state", string(state)).Msg("Theoryhunt state changed")
	return h, nil
}

// LinkTicket attaches the ticket of a channel to a theoryhunt.
func (s *Service) LinkTicket(ctx context.Context, id int64, channelID string) (*storage.Theoryhunt, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := s.store.TicketByChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid("%s is not a ticket.", platform.MentionChannel(channelID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	if err := s.store.SetTicketTheoryhunt(ctx, t.ID, h.ID); err != nil {
		return nil, fmt.Errorf("failed to link ticket: %w", err)
	}
	return h, s.sync(ctx, h)
}

// post sends a fresh summary and stores its message id.
func (s *Service) post(ctx context.Context, h *storage.Theoryhunt) error {
	msg, err := s.render(ctx, h)
	if err != nil {
		return err
	}
	sent, err := s.platform.SendMessage(ctx, s.channelFor(h.State), msg)
	if err != nil {
		return fmt.Errorf("failed to post theoryhunt summary: %w", err)
	}
	h.MessageID = sent.ID
	if err := s.store.UpdateTheoryhunt(ctx, h); err != nil {
		return fmt.Errorf("failed to save theoryhunt message: %w", err)
	}
	return nil
}

// sync edits the summary in place, posting a new one if it is gone.
func (s *Service) sync(ctx context.Context, h *storage.Theoryhunt) error {
	if h.MessageID == "" {
		return s.post(ctx, h)
	}
	msg, err := s.render(ctx, h)
	if err != nil {
		return err
	}
	err = s.platform.EditMessage(ctx, s.channelFor(h.State), h.MessageID, msg)
	if errors.Is(err, platform.ErrNotFound) {
		return s.post(ctx, h)
	}
	if err != nil {
		return fmt.Errorf("failed to update theoryhunt summary: %w", err)
	}
	return nil
}

func (s *Service) channelFor(state storage.TheoryhuntState) string {
	if state == storage.TheoryhuntClosed {
		return s.opts.ClosedChannelID
	}
	return s.opts.OpenChannelID
}

func (s *Service) render(ctx context.Context, h *storage.Theoryhunt) (platform.MessageSend, error) {
	commissioners, err := s.store.Commissioners(ctx, h.ID, h.ServerID)
	if err != nil {
		return platform.MessageSend{}, fmt.Errorf("failed to load commissioners: %w", err)
	}
	linked, err := s.store.TicketsByTheoryhunt(ctx, h.ID)
	if err != nil {
		return platform.MessageSend{}, fmt.Errorf("failed to load linked tickets: %w", err)
	}
	return Render(h, commissioners, linked), nil
}

// Render builds the summary embed of a theoryhunt.
func Render(h *storage.Theoryhunt, commissioners []storage.User, linked []storage.Ticket) platform.MessageSend {
	difficulty := h.Difficulty
	if h.DifficultyReason != "" {
		difficulty += " - " + h.DifficultyReason
	}

	fields := []platform.EmbedField{{Name: "Difficulty", Value: difficulty, Inline: true}}
	if len(commissioners) > 0 {
		mentions := make([]string, 0, len(commissioners))
		for _, u := range commissioners {
			mentions = append(mentions, platform.MentionUser(u.DiscordID))
		}
		fields = append(fields, platform.EmbedField{Name: "Commissioned by", Value: strings.Join(mentions, " "), Inline: true})
	}
	if h.Requirements != "" {
		fields = append(fields, platform.EmbedField{Name: "Requirements", Value: h.Requirements})
	}
	if h.Details != "" {
		fields = append(fields, platform.EmbedField{Name: "Details", Value: h.Details})
	}
	if len(linked) > 0 {
		channels := make([]string, 0, len(linked))
		for _, t := range linked {
			channels = append(channels, platform.MentionChannel(t.ChannelID))
		}
		fields = append(fields, platform.EmbedField{Name: "Tickets", Value: strings.Join(channels, " ")})
	}

	color := 0x57F287
	if h.State == storage.TheoryhuntClosed {
		color = 0x99AAB5
	}
	return platform.MessageSend{
		Embeds: []platform.Embed{{
			Title:       fmt.Sprintf("Theoryhunt #%d: %s", h.ID, h.Name),
			Description: h.Description,
			Color:       color,
			Fields:      fields,
			Footer:      string(h.State),
		}},
	}
}
