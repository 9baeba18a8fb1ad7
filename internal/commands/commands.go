package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/user/ticketbot/internal/housekeeping"
	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/theoryhunt"
	"github.com/user/ticketbot/internal/tickets"
)

// Deps are the services the shipped commands drive.
type Deps struct {
	Engine      *tickets.Engine
	Theoryhunts *theoryhunt.Service
	Housekeeper *housekeeping.Housekeeper
	Moves       *housekeeping.MoveLog
	Platform    platform.Platform
}

type handlers struct {
	Deps
}

// Default returns the descriptors of every shipped command.
func Default(deps Deps) []Descriptor {
	h := &handlers{Deps: deps}
	typeOption := Option{Name: "type", Description: "Ticket type", Type: OptionString, Required: true, Autocomplete: true}
	userOption := Option{Name: "user", Description: "Member", Type: OptionUser, Required: true}

	return []Descriptor{
		{
			Name:        "create",
			Description: "Create a ticket",
			Options: []Option{
				typeOption,
				{Name: "name", Description: "Ticket name", Type: OptionString, Required: true},
			},
			Slash:        h.create,
			Autocomplete: h.completeType(false),
		},
		{
			Name:        "convert",
			Description: "Turn an existing channel into a ticket",
			Options: []Option{
				typeOption,
				{Name: "channel", Description: "Channel to convert", Type: OptionChannel, Required: true},
				{Name: "status", Description: "Initial status", Type: OptionString, Choices: []Choice{
					{Name: "Open", Value: string(storage.StatusOpen)},
					{Name: "Closed", Value: string(storage.StatusClosed)},
					{Name: "Verified", Value: string(storage.StatusVerified)},
				}},
			},
			Slash:        h.convert,
			Autocomplete: h.completeType(true),
		},
		{Name: tickets.ButtonOpen, Description: "Reopen this ticket", Slash: h.open, Button: h.open},
		{Name: tickets.ButtonClose, Description: "Close this ticket", Slash: h.close, Button: h.close},
		{Name: tickets.ButtonVerify, Description: "Verify this ticket", Slash: h.verify, Button: h.verify},
		{Name: tickets.ButtonDelete, Description: "Delete this ticket after saving a transcript", Slash: h.delete, Button: h.delete},
		{
			Name:        "rename",
			Description: "Rename this ticket",
			Options:     []Option{{Name: "name", Description: "New name", Type: OptionString, Required: true}},
			Slash:       h.rename,
		},
		{
			Name:        "transfer",
			Description: "Transfer ownership of this ticket",
			Options:     []Option{userOption},
			Slash:       h.transfer,
		},
		{
			Name:        "add",
			Description: "Add a member to this ticket",
			Options:     []Option{userOption},
			Slash:       h.add,
		},
		{
			Name:        "remove",
			Description: "Remove a member from this ticket",
			Options:     []Option{userOption},
			Slash:       h.remove,
		},
		{
			Name:        tickets.ButtonTranscript,
			Description: "Save a transcript of a channel",
			Options: []Option{
				{Name: "channel", Description: "Channel to transcribe (defaults to this one)", Type: OptionChannel},
				{Name: "up_to", Description: "Stop at this message id (exclusive)", Type: OptionString},
			},
			Slash:   h.transcript,
			Button:  h.transcript,
			Message: h.transcript,
		},
		{
			Name:         "directory",
			Description:  "Post a live directory of tickets in this channel",
			Options:      []Option{typeOption},
			Slash:        h.directory,
			Autocomplete: h.completeType(true),
		},
		{
			Name:        "theoryhunt",
			Description: "Manage theoryhunts",
			Options: []Option{
				{Name: "action", Description: "What to do", Type: OptionString, Required: true, Choices: []Choice{
					{Name: "create", Value: "create"},
					{Name: "edit", Value: "edit"},
					{Name: "open", Value: "open"},
					{Name: "close", Value: "close"},
					{Name: "link", Value: "link"},
				}},
				{Name: "id", Description: "Theoryhunt number", Type: OptionInteger},
				{Name: "field", Description: "Field to edit", Type: OptionString, Choices: fieldChoices()},
				{Name: "value", Description: "New value", Type: OptionString},
				{Name: "channel", Description: "Ticket to link (defaults to this channel)", Type: OptionChannel},
			},
			Slash: h.theoryhunt,
			Modal: h.theoryhuntModal,
			OpensModal: func(inv *Invocation) bool {
				return inv.Kind == KindSlash && inv.Option("action") == "create"
			},
		},
		{
			Name:        "moves",
			Description: "Show the most recent channel moves",
			Slash:       h.moves,
			Message:     h.moves,
		},
	}
}

func fieldChoices() []Choice {
	out := make([]Choice, 0, len(theoryhunt.Fields))
	for _, f := range theoryhunt.Fields {
		out = append(out, Choice{Name: strings.ReplaceAll(f, "_", " "), Value: f})
	}
	return out
}

func say(ctx context.Context, r Responder, format string, args ...any) error {
	return r.Reply(ctx, platform.MessageSend{Content: fmt.Sprintf(format, args...)}, true)
}

// member resolves a user option of the invocation.
func (h *handlers) member(ctx context.Context, inv *Invocation, option string) (platform.Member, error) {
	id := strings.Trim(inv.Option(option), "<@!>")
	if id == "" {
		return platform.Member{}, usage("Please name a member.")
	}
	m, err := h.Platform.Member(ctx, inv.GuildID, id)
	if errors.Is(err, platform.ErrNotFound) {
		return platform.Member{}, usage("Could not find that member.")
	}
	if err != nil {
		return platform.Member{}, fmt.Errorf("failed to resolve member %s: %w", id, err)
	}
	return *m, nil
}

// completeType suggests ticket types matching the typed prefix. With managed set
// only types the actor manages are offered, otherwise types the actor may create.
func (h *handlers) completeType(managed bool) func(ctx context.Context, inv *Invocation) []Choice {
	return func(ctx context.Context, inv *Invocation) []Choice {
		typed := strings.ToLower(inv.Option(inv.Focused))
		var out []Choice
		for _, tt := range h.Engine.Catalog().All() {
			allowed := tt.CanCreate(inv.Actor)
			if managed {
				allowed = tt.CanManage(inv.Actor)
			}
			if !allowed {
				continue
			}
			if typed != "" && !strings.HasPrefix(tt.Key, typed) && !strings.HasPrefix(strings.ToLower(tt.Name), typed) {
				continue
			}
			out = append(out, Choice{Name: tt.Name, Value: tt.Key})
		}
		return out
	}
}

func (h *handlers) create(ctx context.Context, inv *Invocation, r Responder) error {
	channelID, err := h.Engine.Create(ctx, tickets.CreateRequest{
		Type:    inv.Option("type"),
		Name:    inv.Option("name"),
		GuildID: inv.GuildID,
		Actor:   inv.Actor,
	})
	if err != nil {
		return err
	}
	return say(ctx, r, "Created %s.", platform.MentionChannel(channelID))
}

func (h *handlers) convert(ctx context.Context, inv *Invocation, r Responder) error {
	status := storage.TicketStatus(inv.Option("status"))
	if status == "" {
		status = storage.StatusOpen
	}
	report := h.Engine.Convert(ctx, tickets.ConvertRequest{
		Type:      inv.Option("type"),
		ChannelID: inv.Option("channel"),
		GuildID:   inv.GuildID,
		Actor:     inv.Actor,
		Status:    status,
	})
	return say(ctx, r, "%s", report)
}

func (h *handlers) open(ctx context.Context, inv *Invocation, r Responder) error {
	if err := h.Engine.Open(ctx, inv.ChannelID, inv.Actor); err != nil {
		return err
	}
	return say(ctx, r, "Ticket reopened.")
}

func (h *handlers) close(ctx context.Context, inv *Invocation, r Responder) error {
	if err := h.Engine.Close(ctx, inv.ChannelID, inv.Actor); err != nil {
		return err
	}
	return say(ctx, r, "Ticket closed.")
}

func (h *handlers) verify(ctx context.Context, inv *Invocation, r Responder) error {
	res, err := h.Engine.Verify(ctx, inv.ChannelID, inv.Actor)
	if err != nil {
		return err
	}
	if res.Verified {
		return say(ctx, r, "Your verification completed this ticket.")
	}
	return say(ctx, r, "Verification recorded (%d/%d).", res.Count, res.Required)
}

func (h *handlers) delete(ctx context.Context, inv *Invocation, r Responder) error {
	confirmed := inv.Kind == KindButton && inv.Arg(0) == "confirm"
	res, err := h.Engine.Delete(ctx, inv.ChannelID, inv.Actor, confirmed)
	if err != nil {
		return err
	}
	if res.NeedsConfirmation {
		return r.Reply(ctx, tickets.DeletePrompt(), true)
	}
	return say(ctx, r, "This channel will be deleted once its transcript `%s` is saved.", res.Transcript.Slug)
}

func (h *handlers) rename(ctx context.Context, inv *Invocation, r Responder) error {
	if err := h.Engine.Rename(ctx, inv.ChannelID, inv.Actor, inv.Option("name")); err != nil {
		return err
	}
	return say(ctx, r, "Ticket renamed.")
}

func (h *handlers) transfer(ctx context.Context, inv *Invocation, r Responder) error {
	target, err := h.member(ctx, inv, "user")
	if err != nil {
		return err
	}
	if err := h.Engine.TransferOwner(ctx, inv.ChannelID, inv.Actor, target); err != nil {
		return err
	}
	return say(ctx, r, "%s now owns this ticket.", target.Mention())
}

func (h *handlers) add(ctx context.Context, inv *Invocation, r Responder) error {
	target, err := h.member(ctx, inv, "user")
	if err != nil {
		return err
	}
	if err := h.Engine.AddParticipant(ctx, inv.ChannelID, inv.Actor, target); err != nil {
		return err
	}
	return say(ctx, r, "Added %s.", target.Mention())
}

func (h *handlers) remove(ctx context.Context, inv *Invocation, r Responder) error {
	target, err := h.member(ctx, inv, "user")
	if err != nil {
		return err
	}
	if err := h.Engine.RemoveParticipant(ctx, inv.ChannelID, inv.Actor, target); err != nil {
		return err
	}
	return say(ctx, r, "Removed %s.", target.Mention())
}

func (h *handlers) transcript(ctx context.Context, inv *Invocation, r Responder) error {
	channelID, upTo := inv.ChannelID, ""
	switch inv.Kind {
	case KindSlash:
		if ch := inv.Option("channel"); ch != "" {
			channelID = ch
		}
		upTo = inv.Option("up_to")
	case KindMessage:
		upTo = inv.Arg(0)
	}
	if upTo != "" {
		if _, err := strconv.ParseUint(upTo, 10, 64); err != nil {
			return usage("%q is not a message id.", upTo)
		}
	}

	tr, err := h.Engine.RequestTranscript(ctx, channelID, inv.Actor, upTo)
	if err != nil {
		return err
	}
	if inv.Kind == KindMessage {
		return nil
	}
	return say(ctx, r, "Transcribing %s as `%s`.", platform.MentionChannel(channelID), tr.Slug)
}

func (h *handlers) directory(ctx context.Context, inv *Invocation, r Responder) error {
	tt, ok := h.Engine.Catalog().Get(inv.Option("type"))
	if !ok {
		return usage("Unknown ticket type %q.", inv.Option("type"))
	}
	if !tt.CanManage(inv.Actor) {
		return usage("Only %s managers can post a directory.", tt.Name)
	}
	if _, err := h.Housekeeper.CreateDirectory(ctx, inv.GuildID, inv.ChannelID, tt.Key); err != nil {
		return err
	}
	return say(ctx, r, "Directory of %s tickets posted. It refreshes every housekeeping run.", tt.Name)
}

func (h *handlers) moves(ctx context.Context, inv *Invocation, r Responder) error {
	if !h.Engine.Catalog().ManagesAny(inv.Actor) {
		return usage("Only ticket managers can view channel moves.")
	}
	moves := h.Moves.Recent()
	if len(moves) == 0 {
		return say(ctx, r, "No channel moves recorded since the bot started.")
	}
	var b strings.Builder
	b.WriteString("Recent channel moves:")
	for _, m := range moves {
		fmt.Fprintf(&b, "\n<t:%d:R> %s: ", m.At.Unix(), platform.MentionChannel(m.ChannelID))
		if m.FromParentID != m.ToParentID {
			fmt.Fprintf(&b, "category %s -> %s, ", mentionOrNone(m.FromParentID), mentionOrNone(m.ToParentID))
		}
		fmt.Fprintf(&b, "position %d -> %d", m.FromPosition, m.ToPosition)
	}
	return r.Reply(ctx, platform.MessageSend{Content: b.String()}, true)
}

func mentionOrNone(id string) string {
	if id == "" {
		return "none"
	}
	return platform.MentionChannel(id)
}
