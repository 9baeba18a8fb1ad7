package discord

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/user/ticketbot/internal/platform"
)

// maxButtonsPerRow is the platform limit of buttons in one action row.
const maxButtonsPerRow = 5

// mapError turns a 404 REST response into platform.ErrNotFound.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return errors.Join(platform.ErrNotFound, err)
	}
	return err
}

func toChannel(c *discordgo.Channel) *platform.Channel {
	return &platform.Channel{
		ID:            c.ID,
		GuildID:       c.GuildID,
		Name:          c.Name,
		ParentID:      c.ParentID,
		Position:      c.Position,
		LastMessageID: c.LastMessageID,
	}
}

func toUser(u *discordgo.User) platform.User {
	if u == nil {
		return platform.User{}
	}
	return platform.User{
		ID:         u.ID,
		Username:   u.Username,
		GlobalName: u.GlobalName,
		Avatar:     u.Avatar,
		Bot:        u.Bot,
	}
}

// toMember converts a guild member. Interaction and message payloads omit the
// member's user, so the author is passed separately.
func toMember(m *discordgo.Member, guildID string, author *discordgo.User) platform.Member {
	if m == nil {
		return platform.Member{User: toUser(author), GuildID: guildID}
	}
	u := m.User
	if u == nil {
		u = author
	}
	if m.GuildID != "" {
		guildID = m.GuildID
	}
	return platform.Member{
		User:    toUser(u),
		GuildID: guildID,
		Nick:    m.Nick,
		Avatar:  m.Avatar,
		Roles:   m.Roles,
	}
}

func toMessage(m *discordgo.Message) *platform.Message {
	out := &platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Author:    toUser(m.Author),
		Timestamp: m.Timestamp,
		EditedAt:  m.EditedTimestamp,
		Pinned:    m.Pinned,

		RawAttachments: marshalRaw(m.Attachments),
		RawReactions:   marshalRaw(m.Reactions),
		RawEmbeds:      marshalRaw(m.Embeds),
		RawComponents:  marshalRaw(m.Components),
		RawMentions:    marshalRaw(m.Mentions),
		RawStickers:    marshalRaw(m.StickerItems),
	}
	if m.MessageReference != nil {
		out.ReferenceID = m.MessageReference.MessageID
	}
	for _, u := range m.Mentions {
		out.Mentions = append(out.Mentions, toUser(u))
	}
	return out
}

// marshalRaw keeps a sub-payload as JSON. Empty collections become an empty array.
func marshalRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return json.RawMessage("[]")
	}
	return b
}

func toEmbeds(embeds []platform.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		out = append(out, me)
	}
	return out
}

var buttonStyles = map[platform.ButtonStyle]discordgo.ButtonStyle{
	platform.ButtonPrimary:   discordgo.PrimaryButton,
	platform.ButtonSecondary: discordgo.SecondaryButton,
	platform.ButtonSuccess:   discordgo.SuccessButton,
	platform.ButtonDanger:    discordgo.DangerButton,
}

// toComponents lays buttons out in rows of maxButtonsPerRow.
func toComponents(buttons []platform.Button) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(buttons); start += maxButtonsPerRow {
		end := min(start+maxButtonsPerRow, len(buttons))
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			style, ok := buttonStyles[b.Style]
			if !ok {
				style = discordgo.SecondaryButton
			}
			row.Components = append(row.Components, discordgo.Button{Label: b.Label, CustomID: b.CustomID, Style: style})
		}
		rows = append(rows, row)
	}
	return rows
}

func toMessageSend(msg platform.MessageSend) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:         msg.Content,
		Embeds:          toEmbeds(msg.Embeds),
		Components:      toComponents(msg.Buttons),
		AllowedMentions: allowedMentions(),
	}
}

func toMessageEdit(channelID, messageID string, msg platform.MessageSend) *discordgo.MessageEdit {
	edit := discordgo.NewMessageEdit(channelID, messageID).
		SetContent(msg.Content).
		SetEmbeds(toEmbeds(msg.Embeds))
	components := toComponents(msg.Buttons)
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	edit.Components = &components
	edit.AllowedMentions = allowedMentions()
	return edit
}

// allowedMentions lets user and role mentions ping but never @everyone.
func allowedMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers, discordgo.AllowedMentionTypeRoles},
	}
}

var permissionBits = []struct {
	from platform.Permission
	to   int64
}{
	{platform.PermView, discordgo.PermissionViewChannel},
	{platform.PermSend, discordgo.PermissionSendMessages},
	{platform.PermReadHistory, discordgo.PermissionReadMessageHistory},
	{platform.PermAttachFiles, discordgo.PermissionAttachFiles},
	{platform.PermManageMessages, discordgo.PermissionManageMessages},
}

func toPermissions(p platform.Permission) int64 {
	var out int64
	for _, b := range permissionBits {
		if p.Has(b.from) {
			out |= b.to
		}
	}
	return out
}
