package tickets

import (
	"sort"
	"strings"
	"time"

	"github.com/user/ticketbot/internal/config"
	"github.com/user/ticketbot/internal/platform"
)

// InactivityPolicy is a ticket type's dinkdonk: after After without activity
// in an open ticket, Message is posted.
type InactivityPolicy struct {
	After   time.Duration
	Message string
}

// Template is the opening message of a new ticket.
// {creator} and {name} are replaced at creation time.
type Template struct {
	Content string
	Embeds  []platform.Embed
}

// TicketType is the declarative configuration of one class of tickets.
type TicketType struct {
	Key         string
	Name        string
	Description string
	Prefix      string // prepended to channel names
	Color       int

	CreationRoles   []string
	BlacklistRoles  []string
	ManagementRoles []string
	VerifyRoles     []string

	RequiredVerifications int

	DefaultCategory  string
	ClosedCategory   string
	VerifiedCategory string
	AnnounceChannel  string

	Opening  Template
	Dinkdonk *InactivityPolicy
}

// CanCreate reports whether m may create tickets of this type.
func (t TicketType) CanCreate(m platform.Member) bool {
	return m.HasAnyRole(t.CreationRoles...) && !t.Blacklisted(m)
}

// Blacklisted reports whether m holds a role barred from this type.
func (t TicketType) Blacklisted(m platform.Member) bool {
	return m.HasAnyRole(t.BlacklistRoles...)
}

// CanManage reports whether m holds a management role of this type.
func (t TicketType) CanManage(m platform.Member) bool {
	return m.HasAnyRole(t.ManagementRoles...)
}

// CanVerify reports whether m may verify tickets of this type.
func (t TicketType) CanVerify(m platform.Member) bool {
	return m.HasAnyRole(t.VerifyRoles...) || t.CanManage(m)
}

// maxChannelNameRunes leaves room for a type prefix within Discord's 100 character limit.
const maxChannelNameRunes = 90

// ChannelName formats a channel name for a ticket called name.
func (t TicketType) ChannelName(name string) string {
	name = strings.ToLower(strings.Join(strings.Fields(name), "-"))
	if r := []rune(name); len(r) > maxChannelNameRunes {
		name = string(r[:maxChannelNameRunes])
	}
	return t.Prefix + name
}

// Catalog is the fixed set of ticket types of a deployment.
type Catalog struct {
	types map[string]TicketType
}

// NewCatalog builds a catalog from ticket types.
func NewCatalog(types ...TicketType) *Catalog {
	c := &Catalog{types: make(map[string]TicketType, len(types))}
	for _, t := range types {
		c.types[t.Key] = t
	}
	return c
}

// Get returns the ticket type registered under key.
func (c *Catalog) Get(key string) (TicketType, bool) {
	t, ok := c.types[key]
	return t, ok
}

// All returns every ticket type, ordered by key.
func (c *Catalog) All() []TicketType {
	out := make([]TicketType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ManagesAny reports whether m manages at least one ticket type.
func (c *Catalog) ManagesAny(m platform.Member) bool {
	for _, t := range c.types {
		if t.CanManage(m) {
			return true
		}
	}
	return false
}

// DefaultTypes returns the ticket types of the community, with ids taken from the deployment.
func DefaultTypes(dep config.DeploymentConfig) []TicketType {
	admin := dep.Role("admin")
	moderator := dep.Role("moderator")
	theorycrafter := dep.Role("theorycrafter")
	librarian := dep.Role("librarian")
	member := dep.Role("member")
	muted := dep.Role("muted")

	return []TicketType{
		{
			Key:                   "libsubs",
			Name:                  "Library Submission",
			Description:           "Submit a finding to the theorycrafting library.",
			Prefix:                "📚-",
			Color:                 0x5865F2,
			CreationRoles:         []string{member, theorycrafter},
			BlacklistRoles:        []string{muted},
			ManagementRoles:       []string{admin, librarian},
			VerifyRoles:           []string{theorycrafter},
			RequiredVerifications: 2,
			DefaultCategory:       dep.Category("libsubs_open"),
			ClosedCategory:        dep.Category("libsubs_closed"),
			VerifiedCategory:      dep.Category("libsubs_verified"),
			AnnounceChannel:       dep.Channel("announcements"),
			Opening: Template{
				Content: "Ticket created by {creator}.",
				Embeds: []platform.Embed{{
					Title: "{name}",
					Description: "Post your evidence, calculations and sources here. " +
						"When you are done, close the ticket so theorycrafters can verify it.",
					Color: 0x5865F2,
				}},
			},
			Dinkdonk: &InactivityPolicy{
				After:   72 * time.Hour,
				Message: "Dinkdonk {creator}! This submission has been quiet for a while. Close it if it is finished.",
			},
		},
		{
			Key:             "calcs",
			Name:            "Calculation Request",
			Description:     "Ask theorycrafters for a calculation.",
			Prefix:          "🧮-",
			Color:           0x57F287,
			CreationRoles:   []string{member, theorycrafter},
			BlacklistRoles:  []string{muted},
			ManagementRoles: []string{admin, theorycrafter},
			DefaultCategory: dep.Category("calcs_open"),
			ClosedCategory:  dep.Category("calcs_closed"),
			Opening: Template{
				Content: "Ticket created by {creator}.",
				Embeds: []platform.Embed{{
					Title:       "{name}",
					Description: "Describe what you want calculated, including team, weapons and artifacts.",
					Color:       0x57F287,
				}},
			},
			Dinkdonk: &InactivityPolicy{
				After:   48 * time.Hour,
				Message: "Dinkdonk {creator}! Is this calculation still needed?",
			},
		},
		{
			Key:             "feedback",
			Name:            "Feedback",
			Description:     "Private feedback to the moderators.",
			Prefix:          "💬-",
			Color:           0xFEE75C,
			CreationRoles:   []string{member, theorycrafter},
			ManagementRoles: []string{admin, moderator},
			DefaultCategory: dep.Category("feedback_open"),
			ClosedCategory:  dep.Category("feedback_closed"),
			Opening: Template{
				Content: "Ticket created by {creator}.",
				Embeds: []platform.Embed{{
					Title:       "{name}",
					Description: "Only you and the moderators can see this channel.",
					Color:       0xFEE75C,
				}},
			},
		},
	}
}
