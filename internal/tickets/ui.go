package tickets

import (
	"fmt"
	"strings"

	"github.com/user/ticketbot/internal/platform"
)

// Custom ids of the buttons the engine attaches to ticket messages.
const (
	ButtonOpen          = "open"
	ButtonClose         = "close"
	ButtonVerify        = "verify"
	ButtonTranscript    = "transcript"
	ButtonDelete        = "delete"
	ButtonDeleteConfirm = "delete:confirm"
)

// CreatorMarker is the phrase on a ticket's pinned opening message that precedes the creator mention.
const CreatorMarker = "Ticket created by"

func openingMessage(tt TicketType, creator platform.Member, name string) platform.MessageSend {
	r := strings.NewReplacer("{creator}", creator.Mention(), "{name}", name)

	content := r.Replace(tt.Opening.Content)
	if !strings.Contains(content, CreatorMarker) {
		content = CreatorMarker + " " + creator.Mention() + ".\n" + content
	}

	embeds := make([]platform.Embed, 0, len(tt.Opening.Embeds))
	for _, e := range tt.Opening.Embeds {
		e.Title = r.Replace(e.Title)
		e.Description = r.Replace(e.Description)
		embeds = append(embeds, e)
	}

	return platform.MessageSend{
		Content: content,
		Embeds:  embeds,
		Buttons: []platform.Button{
			{Label: "Close", CustomID: ButtonClose, Style: platform.ButtonSecondary},
			{Label: "Delete", CustomID: ButtonDelete, Style: platform.ButtonDanger},
		},
	}
}

func closedMessage(tt TicketType, actor platform.Member) platform.MessageSend {
	msg := platform.MessageSend{
		Embeds: []platform.Embed{{
			Title:       "Ticket closed",
			Description: fmt.Sprintf("Closed by %s.", actor.Mention()),
			Color:       tt.Color,
		}},
		Buttons: []platform.Button{
			{Label: "Open", CustomID: ButtonOpen, Style: platform.ButtonPrimary},
			{Label: "Transcript", CustomID: ButtonTranscript, Style: platform.ButtonSecondary},
		},
	}
	if tt.RequiredVerifications > 0 {
		msg.Buttons = append(msg.Buttons, platform.Button{Label: "Verify", CustomID: ButtonVerify, Style: platform.ButtonSuccess})

		var pings []string
		for _, id := range tt.VerifyRoles {
			if id != "" {
				pings = append(pings, platform.MentionRole(id))
			}
		}
		if len(pings) > 0 {
			msg.Content = strings.Join(pings, " ") + fmt.Sprintf(" this ticket needs %d verifications.", tt.RequiredVerifications)
		}
	}
	return msg
}

func verifiedMessage(tt TicketType, count int) platform.MessageSend {
	return platform.MessageSend{
		Embeds: []platform.Embed{{
			Title:       "Ticket verified",
			Description: fmt.Sprintf("This ticket reached %d verifications.", count),
			Color:       tt.Color,
		}},
		Buttons: []platform.Button{
			{Label: "Transcript", CustomID: ButtonTranscript, Style: platform.ButtonSecondary},
		},
	}
}

// DeletePrompt is the confirmation shown before a ticket is deleted.
func DeletePrompt() platform.MessageSend {
	return platform.MessageSend{
		Content: "Are you sure? The channel will be transcribed and then deleted.",
		Buttons: []platform.Button{
			{Label: "Delete", CustomID: ButtonDeleteConfirm, Style: platform.ButtonDanger},
		},
	}
}
