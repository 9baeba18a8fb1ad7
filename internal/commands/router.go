// Package commands routes slash commands, buttons, modals, prefix messages and
// autocomplete requests to capability-tagged command descriptors.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/pkg/logger"
)

// Kind is the way a command was invoked.
type Kind int

const (
	KindSlash Kind = iota + 1
	KindButton
	KindModal
	KindMessage
	KindAutocomplete
)

func (k Kind) String() string {
	switch k {
	case KindSlash:
		return "slash"
	case KindButton:
		return "button"
	case KindModal:
		return "modal"
	case KindMessage:
		return "message"
	case KindAutocomplete:
		return "autocomplete"
	default:
		return "unknown"
	}
}

// OptionType is the value type of a slash command option.
type OptionType int

const (
	OptionString OptionType = iota + 1
	OptionUser
	OptionChannel
	OptionInteger
)

// Option is one slash command parameter.
type Option struct {
	Name         string
	Description  string
	Type         OptionType
	Required     bool
	Autocomplete bool
	Choices      []Choice
}

// Choice is a fixed or suggested option value.
type Choice struct {
	Name  string
	Value string
}

// Invocation is one request routed to a command.
type Invocation struct {
	Kind    Kind
	Name    string
	GuildID string
	// ChannelID is where the command was used.
	ChannelID string
	Actor     platform.Member
	// Args holds custom id arguments for buttons and modals, and words for prefix messages.
	Args []string
	// Options holds slash option values keyed by name. User and channel options hold ids.
	Options map[string]string
	// Fields holds submitted modal values keyed by field id.
	Fields map[string]string
	// Focused is the option being completed.
	Focused string
}

// Option returns a trimmed slash option value.
func (inv *Invocation) Option(name string) string {
	return strings.TrimSpace(inv.Options[name])
}

// Arg returns the i-th argument or "".
func (inv *Invocation) Arg(i int) string {
	if i < len(inv.Args) {
		return inv.Args[i]
	}
	return ""
}

// ModalField is one text input of a modal.
type ModalField struct {
	ID        string
	Label     string
	Value     string
	Paragraph bool
	Required  bool
	MaxLength int
}

// Modal is a form shown in response to an invocation.
type Modal struct {
	CustomID string
	Title    string
	Fields   []ModalField
}

// Responder answers an invocation on the platform.
type Responder interface {
	Reply(ctx context.Context, msg platform.MessageSend, ephemeral bool) error
	Modal(ctx context.Context, m Modal) error
	Autocomplete(ctx context.Context, choices []Choice) error
}

// Deferrer is implemented by responders that must acknowledge an invocation
// before its handler runs. Replies sent after Defer complete the acknowledgement.
type Deferrer interface {
	Defer(ctx context.Context) error
}

// Handler executes one entry point of a command.
type Handler func(ctx context.Context, inv *Invocation, r Responder) error

// Descriptor declares a command and the entry points it supports. A nil entry
// point means the command cannot be invoked that way.
type Descriptor struct {
	Name        string
	Description string
	Options     []Option

	Slash        Handler
	Button       Handler
	Modal        Handler
	Message      Handler
	Autocomplete func(ctx context.Context, inv *Invocation) []Choice

	// OpensModal reports whether the handler answers inv with a modal, which
	// must be the first response and so cannot follow a deferral.
	OpensModal func(inv *Invocation) bool
}

// Supports reports whether the command has an entry point for kind.
func (d Descriptor) Supports(kind Kind) bool {
	switch kind {
	case KindSlash:
		return d.Slash != nil
	case KindButton:
		return d.Button != nil
	case KindModal:
		return d.Modal != nil
	case KindMessage:
		return d.Message != nil
	case KindAutocomplete:
		return d.Autocomplete != nil
	default:
		return false
	}
}

func (d Descriptor) handler(kind Kind) Handler {
	switch kind {
	case KindSlash:
		return d.Slash
	case KindButton:
		return d.Button
	case KindModal:
		return d.Modal
	case KindMessage:
		return d.Message
	default:
		return nil
	}
}

// genericFailure is shown when an error carries no message meant for users.
const genericFailure = "Something went wrong. Please try again later."

// Router dispatches invocations to registered descriptors.
type Router struct {
	commands map[string]Descriptor
	log      zerolog.Logger
}

// NewRouter creates a router for the given descriptors.
func NewRouter(descs ...Descriptor) *Router {
	r := &Router{commands: make(map[string]Descriptor), log: logger.Component("commands")}
	for _, d := range descs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a descriptor.
func (r *Router) Register(d Descriptor) {
	r.commands[d.Name] = d
}

// Lookup returns the descriptor for a name.
func (r *Router) Lookup(name string) (Descriptor, bool) {
	d, ok := r.commands[name]
	return d, ok
}

// Descriptors returns every descriptor that supports kind, sorted by name.
func (r *Router) Descriptors(kind Kind) []Descriptor {
	var out []Descriptor
	for _, d := range r.commands {
		if d.Supports(kind) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the entry point of inv.Name matching inv.Kind. Failures are
// answered with an ephemeral reply; only messages meant for users are shown.
func (r *Router) Dispatch(ctx context.Context, inv Invocation, resp Responder) {
	log := r.log.With().
		Str("command", inv.Name).
		Stringer("kind", inv.Kind).
		Str("channel_id", inv.ChannelID).
		Str("actor_id", inv.Actor.User.ID).
		Logger()

	d, ok := r.commands[inv.Name]
	if !ok || !d.Supports(inv.Kind) {
		log.Debug().Msg("No handler for invocation")
		if inv.Kind != KindMessage && inv.Kind != KindAutocomplete {
			reply(ctx, resp, log, "Unknown command.")
		}
		return
	}

	if inv.Kind == KindAutocomplete {
		if err := resp.Autocomplete(ctx, d.Autocomplete(ctx, &inv)); err != nil {
			log.Warn().Err(err).Msg("Failed to answer autocomplete")
		}
		return
	}

	if df, ok := resp.(Deferrer); ok && (d.OpensModal == nil || !d.OpensModal(&inv)) {
		if err := df.Defer(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to acknowledge invocation")
		}
	}

	log.Debug().Strs("args", inv.Args).Msg("Dispatching command")
	if err := d.handler(inv.Kind)(ctx, &inv, resp); err != nil {
		msg := UserMessage(err)
		if msg == genericFailure {
			log.Error().Err(err).Msg("Command failed")
		} else {
			log.Info().Err(err).Msg("Command refused")
		}
		reply(ctx, resp, log, msg)
	}
}

func reply(ctx context.Context, resp Responder, log zerolog.Logger, text string) {
	if err := resp.Reply(ctx, platform.MessageSend{Content: text}, true); err != nil {
		log.Warn().Err(err).Msg("Failed to send reply")
	}
}

// UserMessage returns the text to show for err: the error's own user message
// when it has one, or a generic failure notice.
func UserMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return genericFailure
}

// usageError is a malformed invocation.
type usageError struct {
	message string
}

func (e *usageError) Error() string       { return e.message }
func (e *usageError) UserMessage() string { return e.message }

func usage(format string, args ...any) error {
	return &usageError{message: fmt.Sprintf(format, args...)}
}

// CustomID joins a command name and arguments into a button or modal id.
func CustomID(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), ":")
}

// ParseCustomID splits a button or modal id into command name and arguments.
func ParseCustomID(id string) (string, []string) {
	parts := strings.Split(id, ":")
	return parts[0], parts[1:]
}

// ParsePrefix splits a prefix message such as "!transcript 123" into command
// name and arguments. ok is false when content does not start with prefix.
func ParsePrefix(prefix, content string) (name string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
