package discord

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/user/ticketbot/internal/commands"
	"github.com/user/ticketbot/internal/platform"
)

// toInvocation converts an interaction into a router invocation. ok is false for
// interaction types the bot does not handle.
func toInvocation(i *discordgo.Interaction) (inv commands.Invocation, ok bool) {
	inv = commands.Invocation{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Actor:     toMember(i.Member, i.GuildID, i.User),
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand, discordgo.InteractionApplicationCommandAutocomplete:
		data := i.ApplicationCommandData()
		inv.Kind = commands.KindSlash
		if i.Type == discordgo.InteractionApplicationCommandAutocomplete {
			inv.Kind = commands.KindAutocomplete
		}
		inv.Name = data.Name
		inv.Options = make(map[string]string, len(data.Options))
		for _, opt := range data.Options {
			inv.Options[opt.Name] = optionValue(opt)
			if opt.Focused {
				inv.Focused = opt.Name
			}
		}
	case discordgo.InteractionMessageComponent:
		inv.Kind = commands.KindButton
		inv.Name, inv.Args = commands.ParseCustomID(i.MessageComponentData().CustomID)
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		inv.Kind = commands.KindModal
		inv.Name, inv.Args = commands.ParseCustomID(data.CustomID)
		inv.Fields = modalFields(data.Components)
	default:
		return inv, false
	}
	return inv, true
}

func optionValue(opt *discordgo.ApplicationCommandInteractionDataOption) string {
	switch opt.Type {
	case discordgo.ApplicationCommandOptionInteger:
		if f, ok := opt.Value.(float64); ok {
			return strconv.FormatInt(int64(f), 10)
		}
	case discordgo.ApplicationCommandOptionBoolean:
		if b, ok := opt.Value.(bool); ok {
			return strconv.FormatBool(b)
		}
	}
	if s, ok := opt.Value.(string); ok {
		return s
	}
	return fmt.Sprint(opt.Value)
}

func modalFields(rows []discordgo.MessageComponent) map[string]string {
	out := make(map[string]string)
	for _, c := range rows {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				out[input.CustomID] = input.Value
			}
		}
	}
	return out
}

// interactionResponder answers an interaction. Defer acknowledges it with an
// ephemeral loading state; the first reply then edits that response, and later
// replies are sent as followups.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction

	mu    sync.Mutex
	state responseState
}

type responseState int

const (
	stateNone responseState = iota
	stateDeferred
	stateAnswered
)

// advance moves the responder to answered and returns the state it left.
func (r *interactionResponder) advance() responseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.state
	r.state = stateAnswered
	return prev
}

func (r *interactionResponder) Defer(ctx context.Context) error {
	r.mu.Lock()
	if r.state != stateNone {
		r.mu.Unlock()
		return nil
	}
	r.state = stateDeferred
	r.mu.Unlock()

	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
}

func (r *interactionResponder) Reply(ctx context.Context, msg platform.MessageSend, ephemeral bool) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	embeds := toEmbeds(msg.Embeds)
	components := toComponents(msg.Buttons)

	switch r.advance() {
	case stateDeferred:
		_, err := r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
			Content:         &msg.Content,
			Embeds:          &embeds,
			Components:      &components,
			AllowedMentions: allowedMentions(),
		}, discordgo.WithContext(ctx))
		return err
	case stateAnswered:
		_, err := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
			Content:         msg.Content,
			Embeds:          embeds,
			Components:      components,
			Flags:           flags,
			AllowedMentions: allowedMentions(),
		}, discordgo.WithContext(ctx))
		return err
	}
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         msg.Content,
			Embeds:          embeds,
			Components:      components,
			Flags:           flags,
			AllowedMentions: allowedMentions(),
		},
	}, discordgo.WithContext(ctx))
}

func (r *interactionResponder) Modal(ctx context.Context, m commands.Modal) error {
	if r.advance() != stateNone {
		return fmt.Errorf("modal must be the first response to an interaction")
	}
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   m.CustomID,
			Title:      m.Title,
			Components: toModalComponents(m.Fields),
		},
	}, discordgo.WithContext(ctx))
}

func (r *interactionResponder) Autocomplete(ctx context.Context, choices []commands.Choice) error {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(choices))
	for _, c := range choices {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Value})
	}
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: out},
	}, discordgo.WithContext(ctx))
}

func toModalComponents(fields []commands.ModalField) []discordgo.MessageComponent {
	rows := make([]discordgo.MessageComponent, 0, len(fields))
	for _, f := range fields {
		style := discordgo.TextInputShort
		if f.Paragraph {
			style = discordgo.TextInputParagraph
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:  f.ID,
				Label:     f.Label,
				Style:     style,
				Value:     f.Value,
				Required:  f.Required,
				MaxLength: f.MaxLength,
			},
		}})
	}
	return rows
}

// channelResponder answers prefix messages in the channel they were sent in.
type channelResponder struct {
	client    *Client
	channelID string
}

func (r *channelResponder) Reply(ctx context.Context, msg platform.MessageSend, _ bool) error {
	_, err := r.client.SendMessage(ctx, r.channelID, msg)
	return err
}

func (r *channelResponder) Modal(context.Context, commands.Modal) error {
	return fmt.Errorf("modals cannot answer a message")
}

func (r *channelResponder) Autocomplete(context.Context, []commands.Choice) error {
	return fmt.Errorf("autocomplete cannot answer a message")
}

var optionTypes = map[commands.OptionType]discordgo.ApplicationCommandOptionType{
	commands.OptionString:  discordgo.ApplicationCommandOptionString,
	commands.OptionUser:    discordgo.ApplicationCommandOptionUser,
	commands.OptionChannel: discordgo.ApplicationCommandOptionChannel,
	commands.OptionInteger: discordgo.ApplicationCommandOptionInteger,
}

// applicationCommands builds the slash command definitions of descriptors.
func applicationCommands(descs []commands.Descriptor) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(descs))
	for _, d := range descs {
		cmd := &discordgo.ApplicationCommand{Name: d.Name, Description: d.Description}
		for _, o := range d.Options {
			opt := &discordgo.ApplicationCommandOption{
				Type:         optionTypes[o.Type],
				Name:         o.Name,
				Description:  o.Description,
				Required:     o.Required,
				Autocomplete: o.Autocomplete,
			}
			for _, c := range o.Choices {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Value})
			}
			cmd.Options = append(cmd.Options, opt)
		}
		out = append(out, cmd)
	}
	return out
}

// RegisterCommands replaces the guild's slash commands with the router's.
func RegisterCommands(s *discordgo.Session, appID, guildID string, router *commands.Router) (int, error) {
	created, err := s.ApplicationCommandBulkOverwrite(appID, guildID, applicationCommands(router.Descriptors(commands.KindSlash)))
	if err != nil {
		return 0, fmt.Errorf("failed to register commands: %w", err)
	}
	return len(created), nil
}

// WithdrawCommands removes every slash command of the application from the guild.
func WithdrawCommands(s *discordgo.Session, appID, guildID string) error {
	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, []*discordgo.ApplicationCommand{}); err != nil {
		return fmt.Errorf("failed to withdraw commands: %w", err)
	}
	return nil
}
