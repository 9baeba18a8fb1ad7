package housekeeping_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ticketbot/internal/alert"
	"github.com/user/ticketbot/internal/config"
	"github.com/user/ticketbot/internal/housekeeping"
	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/platform/platformtest"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/tickets"
)

const guildID = "100"

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store  *storage.Store
	fake   *platformtest.Fake
	clock  *manualClock
	keeper *housekeeping.Housekeeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store: storage.NewStore(db),
		fake:  platformtest.New(),
		clock: &manualClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)},
	}
	catalog := tickets.NewCatalog(tickets.DefaultTypes(config.DeploymentConfig{})...)
	f.keeper = housekeeping.New(f.store, f.fake, catalog, alert.Nop{}, f.clock)
	f.fake.AddChannel(platform.Channel{ID: "dir", GuildID: guildID, Name: "directory"})
	return f
}

var nextChannel = 1000

func (f *fixture) ticket(t *testing.T, typ string, status storage.TicketStatus, idle time.Duration) storage.Ticket {
	t.Helper()
	nextChannel++
	channelID := strconv.Itoa(nextChannel)
	f.fake.AddChannel(platform.Channel{ID: channelID, GuildID: guildID, Name: "ticket-" + channelID})

	last := f.clock.Now().Add(-idle)
	tk := &storage.Ticket{
		ChannelID:   channelID,
		Name:        "ticket " + channelID,
		Type:        typ,
		Status:      status,
		CreatorID:   "42",
		ServerID:    guildID,
		CreatedAt:   last,
		LastMessage: last,
	}
	require.NoError(t, f.store.CreateTicket(context.Background(), tk, storage.User{DiscordID: "42", ServerID: guildID, Username: "creator"}))
	return *tk
}

func TestNextRun(t *testing.T) {
	base := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{base.Add(7 * time.Minute), base.Add(15 * time.Minute)},
		{base.Add(15 * time.Minute), base.Add(30 * time.Minute)},
		{base.Add(59*time.Minute + 59*time.Second), base.Add(time.Hour)},
		{base.Add(44*time.Minute + 30*time.Second + 5), base.Add(45 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.now.Format("15:04:05"), func(t *testing.T) {
			assert.Equal(t, tt.want, housekeeping.NextRun(tt.now, 15*time.Minute))
		})
	}
}

type scriptedClock struct {
	manualClock
	waits chan time.Duration
	fire  chan time.Time
}

func (c *scriptedClock) After(d time.Duration) <-chan time.Time {
	c.waits <- d
	return c.fire
}

func TestSchedulerArmsOnGridAfterEachRun(t *testing.T) {
	clock := &scriptedClock{
		manualClock: manualClock{now: time.Date(2024, 6, 10, 10, 7, 0, 0, time.UTC)},
		waits:       make(chan time.Duration),
		fire:        make(chan time.Time),
	}
	runs := make(chan struct{})
	s := housekeeping.NewScheduler(clock, 15*time.Minute, func(ctx context.Context) {
		// a slow run that crosses into the next grid slot
		clock.Advance(20 * time.Minute)
		runs <- struct{}{}
	})
	s.Start()
	s.Start()

	assert.Equal(t, 8*time.Minute, <-clock.waits)
	clock.Advance(8 * time.Minute)
	clock.fire <- clock.Now()
	<-runs

	// 10:35 after the run; next boundary is 10:45
	assert.Equal(t, 10*time.Minute, <-clock.waits)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerSurvivesPanickingJob(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 6, 10, 10, 14, 59, 0, time.UTC)}
	var runs atomic.Int32
	recovered := make(chan struct{})
	s := housekeeping.NewScheduler(clock, 15*time.Minute, func(ctx context.Context) {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		select {
		case recovered <- struct{}{}:
		case <-ctx.Done():
		}
	})
	s.Start()
	<-recovered
	s.Stop()
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestInactivitySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.ticket(t, "libsubs", storage.StatusOpen, 4*24*time.Hour)
	fresh := f.ticket(t, "libsubs", storage.StatusOpen, 24*time.Hour)
	noPolicy := f.ticket(t, "feedback", storage.StatusOpen, 300*24*time.Hour)
	closed := f.ticket(t, "calcs", storage.StatusClosed, 30*24*time.Hour)
	active := f.ticket(t, "calcs", storage.StatusOpen, 10*24*time.Hour)
	f.fake.AddMessage(platform.Message{
		ID:        platform.SnowflakeAt(f.clock.Now().Add(-time.Hour)),
		ChannelID: active.ChannelID,
		Content:   "still working on it",
	})

	report, err := f.keeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)
	assert.Zero(t, report.Failures)

	msgs := f.fake.ChannelMessages(stale.ChannelID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "Dinkdonk <@42>")
	for _, tk := range []storage.Ticket{fresh, noPolicy, closed} {
		assert.Empty(t, f.fake.ChannelMessages(tk.ChannelID), tk.Type)
	}
	assert.Len(t, f.fake.ChannelMessages(active.ChannelID), 1)

	// flagged once per full policy window
	f.clock.Advance(24 * time.Hour)
	report, err = f.keeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Reminded)
	assert.Len(t, f.fake.ChannelMessages(stale.ChannelID), 1)

	f.clock.Advance(48 * time.Hour)
	_, err = f.keeper.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, f.fake.ChannelMessages(stale.ChannelID), 2)
	assert.Len(t, f.fake.ChannelMessages(fresh.ChannelID), 1)
	assert.Empty(t, f.fake.ChannelMessages(noPolicy.ChannelID))
}

func TestInactivitySweepContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gone := f.ticket(t, "libsubs", storage.StatusOpen, 4*24*time.Hour)
	require.NoError(t, f.fake.DeleteChannel(ctx, gone.ChannelID))
	stale := f.ticket(t, "libsubs", storage.StatusOpen, 4*24*time.Hour)

	report, err := f.keeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.Reminded)
	assert.Len(t, f.fake.ChannelMessages(stale.ChannelID), 1)
}

func TestDirectorySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.keeper.CreateDirectory(ctx, guildID, "dir", "libsubs")
	require.NoError(t, err)
	first, err := f.fake.Message(ctx, "dir", d.MessageID)
	require.NoError(t, err)
	assert.Contains(t, first.Content, "There are no Library Submission tickets")

	open := f.ticket(t, "libsubs", storage.StatusOpen, 0)
	closed := f.ticket(t, "libsubs", storage.StatusClosed, 0)
	other := f.ticket(t, "calcs", storage.StatusOpen, 0)

	report, err := f.keeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refreshed)

	msg, err := f.fake.Message(ctx, "dir", d.MessageID)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "Open Library Submission tickets (1)")
	assert.Contains(t, msg.Content, "Closed Library Submission tickets (1)")
	assert.NotContains(t, msg.Content, "Verified")
	assert.Contains(t, msg.Content, platform.MentionChannel(open.ChannelID))
	assert.Contains(t, msg.Content, platform.MentionChannel(closed.ChannelID))
	assert.NotContains(t, msg.Content, platform.MentionChannel(other.ChannelID))
}

func TestDirectoryWithMissingMessageIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.keeper.CreateDirectory(ctx, guildID, "dir", "calcs")
	require.NoError(t, err)
	require.NoError(t, f.fake.DeleteMessage(ctx, "dir", d.MessageID))

	report, err := f.keeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)

	dirs, err := f.store.Directories(ctx)
	require.NoError(t, err)
	assert.Len(t, dirs, 1, "only the message-delete notification removes directories")

	removed, err := f.keeper.RemoveDirectoryMessage(ctx, d.MessageID)
	require.NoError(t, err)
	assert.True(t, removed)
	dirs, err = f.store.Directories(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestCreateDirectoryReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.keeper.CreateDirectory(ctx, guildID, "dir", "libsubs")
	require.NoError(t, err)
	second, err := f.keeper.CreateDirectory(ctx, guildID, "dir", "libsubs")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	_, err = f.fake.Message(ctx, "dir", first.MessageID)
	assert.ErrorIs(t, err, platform.ErrNotFound)

	_, err = f.keeper.CreateDirectory(ctx, guildID, "dir", "unknown")
	assert.Error(t, err)
}

func TestMoveLogKeepsFiveNewestFirst(t *testing.T) {
	log := housekeeping.NewMoveLog()
	assert.Empty(t, log.Recent())

	for i := 1; i <= 7; i++ {
		log.Push(housekeeping.Move{ChannelID: strconv.Itoa(i)})
	}
	recent := log.Recent()
	require.Len(t, recent, housekeeping.MoveLogCapacity)
	var ids []string
	for _, m := range recent {
		ids = append(ids, m.ChannelID)
	}
	assert.Equal(t, []string{"7", "6", "5", "4", "3"}, ids)
}

func TestRenderDirectoryTruncatesLongLists(t *testing.T) {
	tt, _ := tickets.NewCatalog(tickets.DefaultTypes(config.DeploymentConfig{})...).Get("calcs")
	var ts []storage.Ticket
	for i := 0; i < 500; i++ {
		ts = append(ts, storage.Ticket{ChannelID: strconv.Itoa(100000 + i), Name: "a rather long ticket name for padding", Status: storage.StatusOpen})
	}
	msg := housekeeping.RenderDirectory(tt, ts)
	require.Len(t, msg.Embeds, 1)
	assert.LessOrEqual(t, len(msg.Embeds[0].Description), 4100)
	assert.Contains(t, msg.Embeds[0].Description, "more")
}
