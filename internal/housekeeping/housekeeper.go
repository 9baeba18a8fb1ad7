package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/ticketbot/internal/alert"
	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/tickets"
	"github.com/user/ticketbot/pkg/logger"
)

// Store is the persistence the sweeps need.
type Store interface {
	LiveTickets(ctx context.Context) ([]storage.Ticket, error)
	SetTicketLastMessage(ctx context.Context, id int64, at time.Time) error
	Directories(ctx context.Context) ([]storage.TicketDirectory, error)
	DirectoryFor(ctx context.Context, channelID, serverID, ticketType string) (*storage.TicketDirectory, error)
	UpsertDirectory(ctx context.Context, d *storage.TicketDirectory) error
	DeleteDirectoryByMessage(ctx context.Context, messageID string) (int64, error)
}

// Report summarizes one housekeeping run.
type Report struct {
	Tickets   int
	Reminded  int
	Refreshed int
	Failures  int
}

// Housekeeper runs the inactivity and directory sweeps.
type Housekeeper struct {
	store    Store
	platform platform.Platform
	catalog  *tickets.Catalog
	alerts   alert.Notifier
	clock    Clock
	log      zerolog.Logger
}

// New creates a housekeeper.
func New(store Store, plat platform.Platform, catalog *tickets.Catalog, alerts alert.Notifier, clock Clock) *Housekeeper {
	if clock == nil {
		clock = RealClock()
	}
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &Housekeeper{
		store:    store,
		platform: plat,
		catalog:  catalog,
		alerts:   alerts,
		clock:    clock,
		log:      logger.Component("housekeeping"),
	}
}

// Tick runs one pass and logs its outcome. It is the scheduler's job.
func (h *Housekeeper) Tick(ctx context.Context) {
	report, err := h.Run(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Housekeeping run failed")
		alert.Safe(ctx, h.alerts, "Housekeeping run failed: "+err.Error())
		return
	}
	h.log.Info().
		Int("tickets", report.Tickets).
		Int("reminded", report.Reminded).
		Int("refreshed", report.Refreshed).
		Int("failures", report.Failures).
		Msg("Housekeeping run complete")
	if report.Failures > 0 {
		alert.Safe(ctx, h.alerts, fmt.Sprintf("Housekeeping finished with %d failures (%d reminders, %d directories refreshed).",
			report.Failures, report.Reminded, report.Refreshed))
	}
}

// Run fetches the live tickets once and runs both sweeps over that snapshot.
// A failing ticket or directory is logged and counted; it does not stop the run.
func (h *Housekeeper) Run(ctx context.Context) (Report, error) {
	snapshot, err := h.store.LiveTickets(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load tickets: %w", err)
	}
	report := Report{Tickets: len(snapshot)}
	h.sweepInactive(ctx, snapshot, &report)
	h.sweepDirectories(ctx, snapshot, &report)
	return report, nil
}

func (h *Housekeeper) sweepInactive(ctx context.Context, snapshot []storage.Ticket, report *Report) {
	now := h.clock.Now().UTC()
	for _, t := range snapshot {
		if t.Status != storage.StatusOpen {
			continue
		}
		tt, ok := h.catalog.Get(t.Type)
		if !ok || tt.Dinkdonk == nil {
			continue
		}

		flagged, err := h.remind(ctx, t, tt.Dinkdonk, now)
		if err != nil {
			report.Failures++
			h.log.Warn().Err(err).Int64("ticket_id", t.ID).Str("channel_id", t.ChannelID).Msg("Inactivity check failed")
			continue
		}
		if flagged {
			report.Reminded++
		}
	}
}

// remind posts the policy's reminder when the ticket has been quiet for at least policy.After.
func (h *Housekeeper) remind(ctx context.Context, t storage.Ticket, policy *tickets.InactivityPolicy, now time.Time) (bool, error) {
	last := t.LastMessage
	ch, err := h.platform.Channel(ctx, t.ChannelID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve channel: %w", err)
	}
	if at, ok := platform.SnowflakeTime(ch.LastMessageID); ok && at.After(last) {
		last = at
	}
	if now.Sub(last) < policy.After {
		return false, nil
	}

	text := strings.NewReplacer("{creator}", platform.MentionUser(t.CreatorID), "{name}", t.Name).Replace(policy.Message)
	if _, err := h.platform.SendMessage(ctx, t.ChannelID, platform.MessageSend{Content: text}); err != nil {
		return false, fmt.Errorf("failed to post reminder: %w", err)
	}
	if err := h.store.SetTicketLastMessage(ctx, t.ID, now); err != nil {
		return false, fmt.Errorf("reminder posted but not saved: %w", err)
	}
	h.log.Info().Int64("ticket_id", t.ID).Dur("idle", now.Sub(last)).Msg("Inactivity reminder posted")
	return true, nil
}

func (h *Housekeeper) sweepDirectories(ctx context.Context, snapshot []storage.Ticket, report *Report) {
	dirs, err := h.store.Directories(ctx)
	if err != nil {
		report.Failures++
		h.log.Error().Err(err).Msg("Failed to load directories")
		return
	}
	for _, d := range dirs {
		tt, ok := h.catalog.Get(d.Type)
		if !ok {
			h.log.Warn().Int64("directory_id", d.ID).Str("type", d.Type).Msg("Directory has an unknown ticket type")
			continue
		}
		msg := RenderDirectory(tt, filterTickets(snapshot, d.ServerID, d.Type))
		if err := h.platform.EditMessage(ctx, d.ChannelID, d.MessageID, msg); err != nil {
			report.Failures++
			h.log.Warn().Err(err).Int64("directory_id", d.ID).Str("channel_id", d.ChannelID).Msg("Failed to refresh directory")
			continue
		}
		report.Refreshed++
	}
}

// CreateDirectory posts a directory of ticketType tickets in a channel. An existing
// directory of the same type in that channel is replaced.
func (h *Housekeeper) CreateDirectory(ctx context.Context, guildID, channelID, ticketType string) (*storage.TicketDirectory, error) {
	tt, ok := h.catalog.Get(ticketType)
	if !ok {
		return nil, fmt.Errorf("unknown ticket type %q", ticketType)
	}
	live, err := h.store.LiveTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}

	msg, err := h.platform.SendMessage(ctx, channelID, RenderDirectory(tt, filterTickets(live, guildID, ticketType)))
	if err != nil {
		return nil, fmt.Errorf("failed to post directory: %w", err)
	}

	old, err := h.store.DirectoryFor(ctx, channelID, guildID, ticketType)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load directory: %w", err)
	}

	d := &storage.TicketDirectory{ChannelID: channelID, MessageID: msg.ID, ServerID: guildID, Type: ticketType}
	if err := h.store.UpsertDirectory(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to save directory: %w", err)
	}

	if old != nil && old.MessageID != msg.ID {
		if err := h.platform.DeleteMessage(ctx, channelID, old.MessageID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			h.log.Warn().Err(err).Str("message_id", old.MessageID).Msg("Failed to delete replaced directory message")
		}
	}
	h.log.Info().Int64("directory_id", d.ID).Str("channel_id", channelID).Str("type", ticketType).Msg("Directory created")
	return d, nil
}

// RemoveDirectoryMessage forgets the directory rendered in a deleted message.
// It reports whether a directory was removed.
func (h *Housekeeper) RemoveDirectoryMessage(ctx context.Context, messageID string) (bool, error) {
	n, err := h.store.DeleteDirectoryByMessage(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to delete directory: %w", err)
	}
	if n > 0 {
		h.log.Info().Str("message_id", messageID).Msg("Directory removed with its message")
	}
	return n > 0, nil
}

func filterTickets(ts []storage.Ticket, serverID, ticketType string) []storage.Ticket {
	var out []storage.Ticket
	for _, t := range ts {
		if t.ServerID == serverID && t.Type == ticketType {
			out = append(out, t)
		}
	}
	return out
}
