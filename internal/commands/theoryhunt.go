package commands

import (
	"context"
	"strconv"

	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/theoryhunt"
)

func createModal() Modal {
	return Modal{
		CustomID: CustomID("theoryhunt", "create"),
		Title:    "New theoryhunt",
		Fields: []ModalField{
			{ID: theoryhunt.FieldName, Label: "Name", Required: true, MaxLength: 100},
			{ID: theoryhunt.FieldDifficulty, Label: "Difficulty (one uppercase letter)", Required: true, MaxLength: 1},
			{ID: theoryhunt.FieldDifficultyReason, Label: "Why this difficulty?", MaxLength: 200},
			{ID: theoryhunt.FieldRequirements, Label: "Requirements", Paragraph: true, MaxLength: 1000},
			{ID: theoryhunt.FieldDescription, Label: "Description", Paragraph: true, Required: true, MaxLength: 2000},
		},
	}
}

func (h *handlers) theoryhunt(ctx context.Context, inv *Invocation, r Responder) error {
	if !h.Engine.Catalog().ManagesAny(inv.Actor) {
		return usage("Only ticket managers can manage theoryhunts.")
	}

	action := inv.Option("action")
	if action == "create" {
		return r.Modal(ctx, createModal())
	}

	id, err := strconv.ParseInt(inv.Option("id"), 10, 64)
	if err != nil {
		return usage("Please give the theoryhunt number.")
	}

	var th *storage.Theoryhunt
	switch action {
	case "edit":
		th, err = h.Theoryhunts.Update(ctx, id, inv.Option("field"), inv.Option("value"))
	case "open":
		th, err = h.Theoryhunts.SetState(ctx, id, storage.TheoryhuntOpen)
	case "close":
		th, err = h.Theoryhunts.SetState(ctx, id, storage.TheoryhuntClosed)
	case "link":
		channelID := inv.Option("channel")
		if channelID == "" {
			channelID = inv.ChannelID
		}
		th, err = h.Theoryhunts.LinkTicket(ctx, id, channelID)
	default:
		return usage("Unknown theoryhunt action %q.", action)
	}
	if err != nil {
		return err
	}
	return say(ctx, r, "Theoryhunt #%d updated.", th.ID)
}

func (h *handlers) theoryhuntModal(ctx context.Context, inv *Invocation, r Responder) error {
	if inv.Arg(0) != "create" {
		return usage("This form has expired.")
	}
	if !h.Engine.Catalog().ManagesAny(inv.Actor) {
		return usage("Only ticket managers can manage theoryhunts.")
	}
	th, err := h.Theoryhunts.Create(ctx, theoryhunt.Draft{
		GuildID:          inv.GuildID,
		Name:             inv.Fields[theoryhunt.FieldName],
		Difficulty:       inv.Fields[theoryhunt.FieldDifficulty],
		DifficultyReason: inv.Fields[theoryhunt.FieldDifficultyReason],
		Requirements:     inv.Fields[theoryhunt.FieldRequirements],
		Description:      inv.Fields[theoryhunt.FieldDescription],
		Commissioners:    []platform.Member{inv.Actor},
	})
	if err != nil {
		return err
	}
	return say(ctx, r, "Theoryhunt #%d created.", th.ID)
}
