// Package platformtest provides an in-memory Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/user/ticketbot/internal/platform"
)

// Overwrite is a recorded member permission overwrite.
type Overwrite struct {
	Allow platform.Permission
	Deny  platform.Permission
}

// Fake is an in-memory platform. It is safe for concurrent use.
type Fake struct {
	mu         sync.Mutex
	nextID     uint64
	channels   map[string]*platform.Channel
	messages   map[string][]*platform.Message
	members    map[string]*platform.Member
	overwrites map[string]map[string]Overwrite
	failures   map[string]error

	// PageRequests counts calls to Messages per channel.
	PageRequests map[string]int
	// Deleted lists channels removed through DeleteChannel.
	Deleted []string
}

// New returns an empty fake platform.
func New() *Fake {
	return &Fake{
		nextID:       1 << 42,
		channels:     make(map[string]*platform.Channel),
		messages:     make(map[string][]*platform.Message),
		members:      make(map[string]*platform.Member),
		overwrites:   make(map[string]map[string]Overwrite),
		failures:     make(map[string]error),
		PageRequests: make(map[string]int),
	}
}

func (f *Fake) newID() string {
	f.nextID++
	return strconv.FormatUint(f.nextID, 10)
}

// Fail makes the next call of the named operation (e.g. "EditChannel") return err.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *Fake) failure(op string) error {
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	return nil
}

// AddChannel registers a channel.
func (f *Fake) AddChannel(ch platform.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := ch
	f.channels[ch.ID] = &c
}

// AddMember registers a guild member.
func (f *Fake) AddMember(m platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := m
	f.members[m.GuildID+"/"+m.User.ID] = &c
}

// AddMessage seeds a message with a caller-chosen id.
func (f *Fake) AddMessage(msg platform.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := msg
	f.insertMessage(&m)
}

func (f *Fake) insertMessage(m *platform.Message) {
	msgs := append(f.messages[m.ChannelID], m)
	sort.Slice(msgs, func(i, j int) bool { return platform.CompareIDs(msgs[i].ID, msgs[j].ID) < 0 })
	f.messages[m.ChannelID] = msgs
	if ch, ok := f.channels[m.ChannelID]; ok {
		ch.LastMessageID = msgs[len(msgs)-1].ID
	}
}

// ChannelSnapshot returns a copy of a channel and whether it exists.
func (f *Fake) ChannelSnapshot(id string) (platform.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return platform.Channel{}, false
	}
	return *ch, true
}

// ChannelMessages returns a copy of a channel's messages, oldest first.
func (f *Fake) ChannelMessages(channelID string) []platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.Message, 0, len(f.messages[channelID]))
	for _, m := range f.messages[channelID] {
		out = append(out, *m)
	}
	return out
}

// LastMessage returns the newest message of a channel.
func (f *Fake) LastMessage(channelID string) (platform.Message, bool) {
	msgs := f.ChannelMessages(channelID)
	if len(msgs) == 0 {
		return platform.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// OverwriteFor returns the permission overwrite recorded for a user in a channel.
func (f *Fake) OverwriteFor(channelID, userID string) (Overwrite, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ow, ok := f.overwrites[channelID][userID]
	return ow, ok
}

func (f *Fake) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("Channel"); err != nil {
		return nil, err
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, platform.ErrNotFound)
	}
	c := *ch
	return &c, nil
}

func (f *Fake) CreateChannel(ctx context.Context, guildID string, spec platform.ChannelSpec) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("CreateChannel"); err != nil {
		return nil, err
	}
	ch := &platform.Channel{ID: f.newID(), GuildID: guildID, Name: spec.Name, ParentID: spec.ParentID}
	f.channels[ch.ID] = ch
	c := *ch
	return &c, nil
}

func (f *Fake) EditChannel(ctx context.Context, channelID string, edit platform.ChannelEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("EditChannel"); err != nil {
		return err
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, platform.ErrNotFound)
	}
	if edit.Name != "" {
		ch.Name = edit.Name
	}
	if edit.ParentID != "" {
		ch.ParentID = edit.ParentID
	}
	return nil
}

func (f *Fake) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteChannel"); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return fmt.Errorf("channel %s: %w", channelID, platform.ErrNotFound)
	}
	delete(f.channels, channelID)
	delete(f.messages, channelID)
	f.Deleted = append(f.Deleted, channelID)
	return nil
}

func (f *Fake) SetMemberPermissions(ctx context.Context, channelID, userID string, allow, deny platform.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SetMemberPermissions"); err != nil {
		return err
	}
	if f.overwrites[channelID] == nil {
		f.overwrites[channelID] = make(map[string]Overwrite)
	}
	f.overwrites[channelID][userID] = Overwrite{Allow: allow, Deny: deny}
	return nil
}

func (f *Fake) RemoveMemberPermissions(ctx context.Context, channelID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("RemoveMemberPermissions"); err != nil {
		return err
	}
	delete(f.overwrites[channelID], userID)
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, channelID string, msg platform.MessageSend) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("SendMessage"); err != nil {
		return nil, err
	}
	if _, ok := f.channels[channelID]; !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, platform.ErrNotFound)
	}
	m := &platform.Message{
		ID:        f.newID(),
		ChannelID: channelID,
		Content:   renderContent(msg),
		Author:    platform.User{ID: "bot", Username: "ticketbot", Bot: true},
		Timestamp: time.Now().UTC(),
	}
	f.insertMessage(m)
	c := *m
	return &c, nil
}

// renderContent flattens a send into text so tests can assert on embeds too.
func renderContent(msg platform.MessageSend) string {
	out := msg.Content
	for _, e := range msg.Embeds {
		out += "\n" + e.Title + "\n" + e.Description
		for _, fld := range e.Fields {
			out += "\n" + fld.Name + ": " + fld.Value
		}
	}
	for _, b := range msg.Buttons {
		out += "\n[" + b.CustomID + "]"
	}
	return out
}

func (f *Fake) EditMessage(ctx context.Context, channelID, messageID string, msg platform.MessageSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("EditMessage"); err != nil {
		return err
	}
	for _, m := range f.messages[channelID] {
		if m.ID == messageID {
			m.Content = renderContent(msg)
			now := time.Now().UTC()
			m.EditedAt = &now
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("DeleteMessage"); err != nil {
		return err
	}
	msgs := f.messages[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.messages[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
}

func (f *Fake) PinMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[channelID] {
		if m.ID == messageID {
			m.Pinned = true
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
}

func (f *Fake) Message(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[channelID] {
		if m.ID == messageID {
			c := *m
			return &c, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
}

func (f *Fake) Messages(ctx context.Context, channelID, beforeID string, limit int) ([]*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PageRequests[channelID]++
	if err := f.failure("Messages"); err != nil {
		return nil, err
	}
	if _, ok := f.channels[channelID]; !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, platform.ErrNotFound)
	}
	var out []*platform.Message
	msgs := f.messages[channelID]
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeID == "" || platform.CompareIDs(msgs[i].ID, beforeID) < 0 {
			c := *msgs[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *Fake) PinnedMessages(ctx context.Context, channelID string) ([]*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*platform.Message
	for _, m := range f.messages[channelID] {
		if m.Pinned {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *Fake) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("Member"); err != nil {
		return nil, err
	}
	m, ok := f.members[guildID+"/"+userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, platform.ErrNotFound)
	}
	c := *m
	return &c, nil
}

var _ platform.Platform = (*Fake)(nil)
