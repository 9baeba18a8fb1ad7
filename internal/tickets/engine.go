// Package tickets implements the ticket lifecycle: creation, the
// OPEN/CLOSED/VERIFIED state machine, verification and deletion.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/user/ticketbot/internal/lock"
	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/transcript"
	"github.com/user/ticketbot/pkg/logger"
)

const (
	// RenameCooldown is the minimum time between two renames of a ticket.
	RenameCooldown = 5 * time.Minute
	// DeleteGrace is how long a creator may delete their own ticket.
	DeleteGrace = 5 * time.Minute

	maxNameLength = 80
)

const (
	participantAllow = platform.PermView | platform.PermSend | platform.PermReadHistory | platform.PermAttachFiles
	closedAllow      = platform.PermView | platform.PermReadHistory
	closedDeny       = platform.PermSend
)

// Store is the persistence the engine needs.
type Store interface {
	CreateTicket(ctx context.Context, t *storage.Ticket, creator storage.User) error
	UpsertTicket(ctx context.Context, t *storage.Ticket, creator storage.User) error
	TicketByChannel(ctx context.Context, channelID string) (*storage.Ticket, error)
	TransitionTicket(ctx context.Context, id int64, from, to storage.TicketStatus) (bool, error)
	ReopenTicket(ctx context.Context, id int64) (bool, error)
	RenameTicket(ctx context.Context, id int64, name string, at time.Time) error
	SyncTicketName(ctx context.Context, channelID, name string) error
	SetTicketCreator(ctx context.Context, id int64, creator storage.User) error
	SetTicketVerifierPing(ctx context.Context, id int64, at time.Time) error
	MarkTicketDeleted(ctx context.Context, channelID string) (int64, error)
	AddContributor(ctx context.Context, ticketID int64, user storage.User) error
	RemoveContributor(ctx context.Context, ticketID int64, userID string) error
	Verifications(ctx context.Context, ticketID int64) ([]storage.Verification, error)
	AddVerification(ctx context.Context, v *storage.Verification, verifier storage.User) error
	DeletionQueued(ctx context.Context, channelID string) (bool, error)
}

// Transcriber starts channel transcripts.
type Transcriber interface {
	Start(ctx context.Context, req transcript.StartRequest) (*storage.Transcript, error)
}

// Options tunes the engine.
type Options struct {
	Now func() time.Time
}

// Engine enforces the ticket state machine and its permission rules.
type Engine struct {
	store       Store
	platform    platform.Platform
	catalog     *Catalog
	locker      lock.Locker
	transcriber Transcriber
	now         func() time.Time
	log         zerolog.Logger
}

// NewEngine creates a lifecycle engine.
func NewEngine(store Store, plat platform.Platform, catalog *Catalog, locker lock.Locker, transcriber Transcriber, opts Options) *Engine {
	if locker == nil {
		locker = lock.NewMemory()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:       store,
		platform:    plat,
		catalog:     catalog,
		locker:      locker,
		transcriber: transcriber,
		now:         opts.Now,
		log:         logger.Component("tickets"),
	}
}

// Catalog returns the ticket types the engine serves.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

var transitions = map[storage.TicketStatus][]storage.TicketStatus{
	storage.StatusOpen:   {storage.StatusClosed},
	storage.StatusClosed: {storage.StatusOpen, storage.StatusVerified},
}

// CanTransition reports whether the state machine has an edge from one status to another.
// Every live status may move to DELETED.
func CanTransition(from, to storage.TicketStatus) bool {
	if to == storage.StatusDeleted {
		return from != storage.StatusDeleted
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateRequest describes a ticket to create.
type CreateRequest struct {
	Type    string
	Name    string
	GuildID string
	Actor   platform.Member
}

// Create opens a new ticket channel and returns its id.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (string, error) {
	tt, ok := e.catalog.Get(req.Type)
	if !ok {
		return "", precondition("Unknown ticket type %q.", req.Type)
	}
	if tt.Blacklisted(req.Actor) || !tt.CanCreate(req.Actor) {
		return "", permissionDenied("You are not allowed to create %s tickets.", tt.Name)
	}
	name, err := cleanName(req.Name)
	if err != nil {
		return "", err
	}

	ch, err := e.platform.CreateChannel(ctx, req.GuildID, platform.ChannelSpec{
		Name:     tt.ChannelName(name),
		ParentID: tt.DefaultCategory,
		Topic:    fmt.Sprintf("%s by %s", tt.Name, req.Actor.User.Username),
	})
	if err != nil {
		return "", transient(err, "Failed to create the ticket channel.")
	}
	log := e.log.With().Str("channel_id", ch.ID).Str("type", tt.Key).Logger()

	if err := e.platform.SetMemberPermissions(ctx, ch.ID, req.Actor.User.ID, participantAllow, 0); err != nil {
		log.Warn().Err(err).Msg("Failed to grant creator permissions")
	}

	opening, err := e.platform.SendMessage(ctx, ch.ID, openingMessage(tt, req.Actor, name))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to post opening message")
	} else if err := e.platform.PinMessage(ctx, ch.ID, opening.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to pin opening message")
	}

	now := e.now().UTC()
	t := &storage.Ticket{
		ChannelID:   ch.ID,
		Name:        name,
		Type:        tt.Key,
		Status:      storage.StatusOpen,
		CreatorID:   req.Actor.User.ID,
		ServerID:    req.GuildID,
		CreatedAt:   now,
		LastMessage: now,
	}
	if err := e.store.CreateTicket(ctx, t, memberUser(req.Actor, req.GuildID, now)); err != nil {
		log.Error().Err(err).Msg("Ticket channel created but not saved")
		return "", transient(err, "The ticket channel was created but could not be saved.")
	}

	if tt.AnnounceChannel != "" {
		_, err := e.platform.SendMessage(ctx, tt.AnnounceChannel, platform.MessageSend{
			Content: fmt.Sprintf("New %s: %s by %s", tt.Name, platform.MentionChannel(ch.ID), req.Actor.Mention()),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to announce ticket")
		}
	}

	log.Info().Int64("ticket_id", t.ID).Str("creator_id", t.CreatorID).Msg("Ticket created")
	return ch.ID, nil
}

// ConvertRequest describes an existing channel to adopt as a ticket.
type ConvertRequest struct {
	Type      string
	ChannelID string
	GuildID   string
	Actor     platform.Member
	Status    storage.TicketStatus
}

// Convert adopts an existing channel as a ticket. It never fails; the returned line reports the outcome.
// The creator is read from the pinned opening message, falling back to the actor.
func (e *Engine) Convert(ctx context.Context, req ConvertRequest) string {
	tt, ok := e.catalog.Get(req.Type)
	if !ok {
		return fmt.Sprintf("Unknown ticket type %q.", req.Type)
	}
	if !tt.CanManage(req.Actor) {
		return "You are not allowed to convert channels into " + tt.Name + " tickets."
	}
	status := req.Status
	switch status {
	case "":
		status = storage.StatusOpen
	case storage.StatusOpen, storage.StatusClosed, storage.StatusVerified:
	default:
		return fmt.Sprintf("A ticket cannot be converted into status %s.", status)
	}

	ch, err := e.platform.Channel(ctx, req.ChannelID)
	if err != nil {
		e.log.Warn().Err(err).Str("channel_id", req.ChannelID).Msg("Convert could not resolve channel")
		return "Could not find that channel."
	}

	now := e.now().UTC()
	creator := memberUser(req.Actor, req.GuildID, now)
	pins, err := e.platform.PinnedMessages(ctx, ch.ID)
	if err != nil {
		e.log.Warn().Err(err).Str("channel_id", ch.ID).Msg("Failed to read pinned messages")
	}
	if id := FindCreator(pins); id != "" && id != creator.DiscordID {
		if m, err := e.platform.Member(ctx, req.GuildID, id); err == nil {
			creator = memberUser(*m, req.GuildID, now)
		} else {
			creator = storage.User{DiscordID: id, ServerID: req.GuildID, Username: id, UpdatedAt: now}
		}
	}

	t := &storage.Ticket{
		ChannelID:   ch.ID,
		Name:        ch.Name,
		Type:        tt.Key,
		Status:      status,
		CreatorID:   creator.DiscordID,
		ServerID:    req.GuildID,
		CreatedAt:   now,
		LastMessage: now,
	}
	if err := e.store.UpsertTicket(ctx, t, creator); err != nil {
		e.log.Error().Err(err).Str("channel_id", ch.ID).Msg("Failed to save converted ticket")
		return "Failed to save the ticket: " + err.Error()
	}

	e.log.Info().Int64("ticket_id", t.ID).Str("channel_id", ch.ID).Str("creator_id", creator.DiscordID).Msg("Channel converted")
	return fmt.Sprintf("Converted %s into a %s ticket owned by %s (%s).",
		platform.MentionChannel(ch.ID), tt.Name, platform.MentionUser(creator.DiscordID), status)
}

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// FindCreator returns the user mentioned after CreatorMarker on the first matching pin.
func FindCreator(pins []*platform.Message) string {
	for _, m := range pins {
		idx := strings.Index(strings.ToLower(m.Content), strings.ToLower(CreatorMarker))
		if idx < 0 {
			continue
		}
		if match := mentionPattern.FindStringSubmatch(m.Content[idx:]); match != nil {
			return match[1]
		}
		if len(m.Mentions) > 0 {
			return m.Mentions[0].ID
		}
	}
	return ""
}

// Open reopens a closed ticket and clears its verifications.
func (e *Engine) Open(ctx context.Context, channelID string, actor platform.Member) error {
	return e.withTicket(ctx, channelID, func(t *storage.Ticket, tt TicketType) error {
		if !isOwnerOrManager(t, tt, actor) {
			return permissionDenied("Only the ticket creator or %s managers can reopen this ticket.", tt.Name)
		}
		if t.Status == storage.StatusOpen {
			return precondition("This ticket is already open.")
		}
		if !CanTransition(t.Status, storage.StatusOpen) {
			return precondition("A %s ticket cannot be reopened.", strings.ToLower(string(t.Status)))
		}

		if err := e.platform.SetMemberPermissions(ctx, channelID, t.CreatorID, participantAllow, 0); err != nil {
			return transient(err, "Failed to restore the creator's permissions.")
		}
		if tt.ClosedCategory != "" && tt.DefaultCategory != "" {
			if err := e.platform.EditChannel(ctx, channelID, platform.ChannelEdit{ParentID: tt.DefaultCategory}); err != nil {
				return transient(err, "Failed to move the ticket channel.")
			}
		}

		moved, err := e.store.ReopenTicket(ctx, t.ID)
		if err != nil {
			e.log.Error().Err(err).Int64("ticket_id", t.ID).Msg("Ticket reopened on the platform but not saved")
			return transient(err, "Failed to save the ticket.")
		}
		if !moved {
			return precondition("The ticket changed state, please try again.")
		}

		e.post(ctx, channelID, platform.MessageSend{Content: fmt.Sprintf("Ticket reopened by %s.", actor.Mention())})
		e.log.Info().Int64("ticket_id", t.ID).Str("actor_id", actor.User.ID).Msg("Ticket reopened")
		return nil
	})
}

// Close closes an open ticket.
func (e *Engine) Close(ctx context.Context, channelID string, actor platform.Member) error {
	return e.withTicket(ctx, channelID, func(t *storage.Ticket, tt TicketType) error {
		if !isOwnerOrManager(t, tt, actor) {
			return permissionDenied("Only the ticket creator or %s managers can close this ticket.", tt.Name)
		}
		if t.Status != storage.StatusOpen {
			return precondition("This ticket is not open.")
		}

		if err := e.platform.SetMemberPermissions(ctx, channelID, t.CreatorID, closedAllow, closedDeny); err != nil {
			return transient(err, "Failed to update the creator's permissions.")
		}
		if tt.ClosedCategory != "" {
			if err := e.platform.EditChannel(ctx, channelID, platform.ChannelEdit{ParentID: tt.ClosedCategory}); err != nil {
				return transient(err, "Failed to move the ticket channel.")
			}
		}

		moved, err := e.store.TransitionTicket(ctx, t.ID, storage.StatusOpen, storage.StatusClosed)
		if err != nil {
			e.log.Error().Err(err).Int64("ticket_id", t.ID).Msg("Ticket closed on the platform but not saved")
			return transient(err, "Failed to save the ticket.")
		}
		if !moved {
			return precondition("The ticket changed state, please try again.")
		}

		e.post(ctx, channelID, closedMessage(tt, actor))
		if tt.RequiredVerifications > 0 {
			if err := e.store.SetTicketVerifierPing(ctx, t.ID, e.now().UTC()); err != nil {
				e.log.Warn().Err(err).Int64("ticket_id", t.ID).Msg("Failed to record verifier ping")
			}
		}
		e.log.Info().Int64("ticket_id", t.ID).Str("actor_id", actor.User.ID).Msg("Ticket closed")
		return nil
	})
}

// Rename renames a ticket and its channel, at most once per RenameCooldown.
func (e *Engine) Rename(ctx context.Context, channelID string, actor platform.Member, newName string) error {
	return e.withTicket(ctx, channelID, func(t *storage.Ticket, tt TicketType) error {
		if !isOwnerOrManager(t, tt, actor) {
			return permissionDenied("Only the ticket creator or %s managers can rename this ticket.", tt.Name)
		}
		now := e.now().UTC()
		if t.LastRename.Valid {
			if wait := RenameCooldown - now.Sub(t.LastRename.Time); wait > 0 {
				return rateLimited("This ticket was renamed recently. Try again in %s.", wait.Round(time.Second))
			}
		}
		name, err := cleanName(newName)
		if err != nil {
			return err
		}

		if err := e.platform.EditChannel(ctx, channelID, platform.ChannelEdit{Name: tt.ChannelName(name)}); err != nil {
			return transient(err, "Failed to rename the ticket channel.")
		}
		if err := e.store.RenameTicket(ctx, t.ID, name, now); err != nil {
			e.log.Error().Err(err).Int64("ticket_id", t.ID).Msg("Channel renamed but ticket not saved")
			return transient(err, "Failed to save the new name.")
		}
		e.log.Info().Int64("ticket_id", t.ID).Str("name", name).Msg("Ticket renamed")
		return nil
	})
}

// TransferOwner makes newOwner the ticket's creator.
func (e *Engine) TransferOwner(ctx context.Context, channelID string, actor, newOwner platform.Member) error {
	return e.withTicket(ctx, channelID, func(t *storage.Ticket, tt TicketType) error {
		if !tt.CanManage(actor) || tt.Blacklisted(actor) {
			return permissionDenied("Only %s managers can transfer tickets.", tt.Name)
		}
		if tt.Blacklisted(newOwner) {
			return permissionDenied("%s cannot own %s tickets.", newOwner.Mention(), tt.Name)
		}
		if newOwner.User.ID == t.CreatorID {
			return precondition("%s already owns this ticket.", newOwner.Mention())
		}

		allow := participantAllow
		var deny platform.Permission
		if t.Status != storage.StatusOpen {
			allow, deny = closedAllow, closedDeny
		}
		if err := e.platform.SetMemberPermissions(ctx, channelID, newOwner.User.ID, allow, deny); err != nil {
			return transient(err, "Failed to grant the new owner access.")
		}
		if err := e.store.SetTicketCreator(ctx, t.ID, memberUser(newOwner, t.ServerID, e.now().UTC())); err != nil {
			e.log.Error().Err(err).Int64("ticket_id", t.ID).Msg("New owner granted access but not saved")
			return transient(err, "Failed to save the new owner.")
		}

		e.post(ctx, channelID, platform.MessageSend{
			Content: fmt.Sprintf("%s transferred this ticket to %s.", actor.Mention(), newOwner.Mention()),
		})
		e.log.Info().Int64("ticket_id", t.ID).Str("from", t.CreatorID).Str("to", newOwner.User.ID).Msg("Ticket transferred")
		return nil
	})
}

// AddParticipant gives target access to the ticket channel.
func (e *Engine) AddParticipant(ctx context.Context, channelID string, actor, target platform.Member) error {
	return e.withTicket(ctx, channelID, func(t *storage.Ticket, tt TicketType) error {
		if !tt.CanManage(actor) {
			return permissionDenied("Only %s managers can add people to tickets.", tt.Name)
		}
		if err := e.platform.SetMemberPermissions(ctx, channelID, target.User.ID, participantAllow, 0); err != nil {
			return transient(err, "Failed to give %s access.", target.Mention())
		}
		if err := e.store.AddContributor(ctx, t.ID, memberUser(target, t.ServerID, e.now().UTC())); err != nil {
			e.log.Error().Err(err).Int64("ticket_id", t.ID).Msg("Participant added but not saved")
			return transient(err, "Failed to save the participant.")
		}
		e.post(ctx, channelID, platform.MessageSend{
			Content: fmt.Sprintf("%s added %s to this ticket.", actor.Mention(), target.Mention()),
		})
		return nil
	})
}

// RemoveParticipant revokes target's access to the ticket channel.
func (e *Engine) RemoveParticipant(ctx context.Context, channelID string, actor, target platform.Member) error {
	return e.withTicket(ctx, channelID, func(t *storage.Ticket, tt TicketType) error {
		if !tt.CanManage(actor) {
			return permissionDenied("Only %s managers can remove people from tickets.", tt.Name)
		}
		if target.User.ID == t.CreatorID {
			return precondition("The creator cannot be removed. Transfer the ticket first.")
		}
		if err := e.platform.RemoveMemberPermissions(ctx, channelID, target.User.ID); err != nil {
			return transient(err, "Failed to revoke %s's access.", target.Mention())
		}
		if err := e.store.RemoveContributor(ctx, t.ID, target.User.ID); err != nil {
			e.log.Error().Err(err).Int64("ticket_id", t.ID).Msg("Participant removed but not saved")
			return transient(err, "Failed to save the change.")
		}
		e.post(ctx, channelID, platform.MessageSend{
			Content: fmt.Sprintf("%s removed %s from this ticket.", actor.Mention(), target.Mention()),
		})
		return nil
	})
}

// DeleteResult is the outcome of a Delete call.
type DeleteResult struct {
	// NeedsConfirmation is set when nothing was done and the actor must confirm.
	NeedsConfirmation bool
	Transcript        *storage.Transcript
}

// Delete transcribes and then deletes a ticket channel. Without confirmed it only
// checks eligibility and asks for confirmation.
func (e *Engine) Delete(ctx context.Context, channelID string, actor platform.Member, confirmed bool) (*DeleteResult, error) {
	var res *DeleteResult
	err := e.withTicket(ctx, channelID, func(t *storage.Ticket, tt TicketType) error {
		inGrace := t.CreatorID == actor.User.ID && e.now().Sub(t.CreatedAt) < DeleteGrace
		if !tt.CanManage(actor) && !inGrace {
			return permissionDenied("Only %s managers can delete this ticket.", tt.Name)
		}
		queued, err := e.store.DeletionQueued(ctx, channelID)
		if err != nil {
			return transient(err, "Failed to check pending deletions.")
		}
		if queued {
			return precondition("This ticket is already being transcribed for deletion.")
		}
		if !confirmed {
			res = &DeleteResult{NeedsConfirmation: true}
			return nil
		}

		progress, err := e.platform.SendMessage(ctx, channelID, platform.MessageSend{
			Content: fmt.Sprintf("Deletion requested by %s. Transcribing this channel first...", actor.Mention()),
		})
		if err != nil {
			return transient(err, "Failed to start the deletion.")
		}
		tr, err := e.transcriber.Start(ctx, transcript.StartRequest{
			ChannelID:         channelID,
			StartID:           progress.ID,
			ProgressChannelID: channelID,
			ProgressMessageID: progress.ID,
			TranscriberID:     actor.User.ID,
			DeleteChannel:     true,
		})
		if err != nil {
			return transient(err, "Failed to queue the transcript.")
		}
		e.log.Info().Int64("ticket_id", t.ID).Str("slug", tr.Slug).Str("actor_id", actor.User.ID).Msg("Ticket queued for deletion")
		res = &DeleteResult{Transcript: tr}
		return nil
	})
	return res, err
}

// RequestTranscript transcribes a channel without deleting it. Messages with ids at or
// below upTo are left out. In a ticket the creator may ask; elsewhere a ticket manager must.
func (e *Engine) RequestTranscript(ctx context.Context, channelID string, actor platform.Member, upTo string) (*storage.Transcript, error) {
	t, err := e.store.TicketByChannel(ctx, channelID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if !e.catalog.ManagesAny(actor) {
			return nil, permissionDenied("Only ticket managers can transcribe channels.")
		}
	case err != nil:
		return nil, transient(err, "Failed to load the ticket.")
	default:
		tt, ok := e.catalog.Get(t.Type)
		if !ok || !isOwnerOrManager(t, tt, actor) {
			return nil, permissionDenied("Only the ticket creator or a manager can transcribe this ticket.")
		}
	}

	progress, err := e.platform.SendMessage(ctx, channelID, platform.MessageSend{Content: "Transcribing..."})
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, notFound(err, "Could not find that channel.")
		}
		return nil, transient(err, "Failed to start the transcript.")
	}
	tr, err := e.transcriber.Start(ctx, transcript.StartRequest{
		ChannelID:         channelID,
		StartID:           progress.ID,
		UpTo:              upTo,
		ProgressChannelID: channelID,
		ProgressMessageID: progress.ID,
		TranscriberID:     actor.User.ID,
	})
	if err != nil {
		return nil, transient(err, "Failed to queue the transcript.")
	}
	return tr, nil
}

// HandleChannelDeleted marks the ticket of a destroyed channel as deleted.
func (e *Engine) HandleChannelDeleted(ctx context.Context, channelID string) error {
	n, err := e.store.MarkTicketDeleted(ctx, channelID)
	if err != nil {
		return fmt.Errorf("failed to mark ticket deleted: %w", err)
	}
	if n > 0 {
		e.log.Info().Str("channel_id", channelID).Msg("Ticket channel deleted")
	}
	return nil
}

// HandleChannelRenamed keeps a ticket's name in step with a rename made on the platform.
func (e *Engine) HandleChannelRenamed(ctx context.Context, channelID, name string) error {
	t, err := e.store.TicketByChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load ticket: %w", err)
	}
	if tt, ok := e.catalog.Get(t.Type); ok {
		name = strings.TrimPrefix(name, tt.Prefix)
		if tt.ChannelName(t.Name) == tt.Prefix+name {
			return nil
		}
	}
	if err := e.store.SyncTicketName(ctx, channelID, name); err != nil {
		return fmt.Errorf("failed to sync ticket name: %w", err)
	}
	return nil
}

// withTicket runs fn on the live ticket of a channel while holding the ticket's lock.
func (e *Engine) withTicket(ctx context.Context, channelID string, fn func(t *storage.Ticket, tt TicketType) error) error {
	unlock, err := e.locker.Lock(ctx, "ticket:"+channelID)
	if err != nil {
		return transient(err, "The ticket is busy, please try again.")
	}
	defer unlock()

	t, tt, err := e.load(ctx, channelID)
	if err != nil {
		return err
	}
	return fn(t, tt)
}

func (e *Engine) load(ctx context.Context, channelID string) (*storage.Ticket, TicketType, error) {
	t, err := e.store.TicketByChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, TicketType{}, precondition("This channel is not a ticket.")
	}
	if err != nil {
		return nil, TicketType{}, transient(err, "Failed to load the ticket.")
	}
	tt, ok := e.catalog.Get(t.Type)
	if !ok {
		return nil, TicketType{}, precondition("This ticket has an unknown type %q.", t.Type)
	}
	return t, tt, nil
}

// post sends a message into a ticket, logging failures.
func (e *Engine) post(ctx context.Context, channelID string, msg platform.MessageSend) {
	if _, err := e.platform.SendMessage(ctx, channelID, msg); err != nil {
		e.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to post ticket message")
	}
}

func isOwnerOrManager(t *storage.Ticket, tt TicketType, actor platform.Member) bool {
	return t.CreatorID == actor.User.ID || tt.CanManage(actor)
}

func cleanName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", precondition("A ticket name is required.")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", precondition("Ticket names are limited to %d characters.", maxNameLength)
	}
	return name, nil
}

func memberUser(m platform.Member, serverID string, now time.Time) storage.User {
	return storage.User{
		DiscordID:  m.User.ID,
		ServerID:   serverID,
		Username:   m.User.Username,
		GlobalName: m.User.GlobalName,
		Nickname:   m.Nick,
		Avatar:     m.User.Avatar,
		Bot:        m.User.Bot,
		UpdatedAt:  now,
	}
}
