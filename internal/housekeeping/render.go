package housekeeping

import (
	"fmt"
	"strings"

	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/tickets"
)

const maxEmbedDescription = 4000

var directoryStatuses = []struct {
	status storage.TicketStatus
	title  string
	color  int
}{
	{storage.StatusOpen, "Open", 0x57F287},
	{storage.StatusClosed, "Closed", 0xFEE75C},
	{storage.StatusVerified, "Verified", 0x5865F2},
}

// RenderDirectory builds the summary message of a directory: one embed per
// non-empty status, or a placeholder when no ticket matches.
func RenderDirectory(tt tickets.TicketType, ts []storage.Ticket) platform.MessageSend {
	buckets := make(map[storage.TicketStatus][]storage.Ticket)
	for _, t := range ts {
		buckets[t.Status] = append(buckets[t.Status], t)
	}

	msg := platform.MessageSend{}
	for _, s := range directoryStatuses {
		bucket := buckets[s.status]
		if len(bucket) == 0 {
			continue
		}
		msg.Embeds = append(msg.Embeds, platform.Embed{
			Title:       fmt.Sprintf("%s %s tickets (%d)", s.title, tt.Name, len(bucket)),
			Description: listTickets(bucket),
			Color:       s.color,
		})
	}

	if len(msg.Embeds) == 0 {
		msg.Embeds = []platform.Embed{{
			Title:       tt.Name + " tickets",
			Description: "There are no " + tt.Name + " tickets right now.",
			Color:       tt.Color,
		}}
	}
	return msg
}

func listTickets(ts []storage.Ticket) string {
	var b strings.Builder
	for i, t := range ts {
		line := fmt.Sprintf("%s %s\n", platform.MentionChannel(t.ChannelID), t.Name)
		if b.Len()+len(line) > maxEmbedDescription {
			fmt.Fprintf(&b, "...and %d more", len(ts)-i)
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}
