package tickets_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ticketbot/internal/alert"
	"github.com/user/ticketbot/internal/config"
	"github.com/user/ticketbot/internal/lock"
	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/platform/platformtest"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/tickets"
	"github.com/user/ticketbot/internal/transcript"
)

const guildID = "100"

var deployment = config.DeploymentConfig{
	ServerID: guildID,
	Roles: map[string]string{
		"admin":         "r-admin",
		"moderator":     "r-mod",
		"theorycrafter": "r-tc",
		"librarian":     "r-lib",
		"member":        "r-member",
		"muted":         "r-muted",
	},
	Categories: map[string]string{
		"libsubs_open":     "cat-open",
		"libsubs_closed":   "cat-closed",
		"libsubs_verified": "cat-verified",
		"calcs_open":       "cat-calcs",
		"calcs_closed":     "cat-calcs-closed",
	},
	Channels: map[string]string{
		"announcements": "ann",
	},
}

type fixture struct {
	store    *storage.Store
	fake     *platformtest.Fake
	pipeline *transcript.Pipeline
	engine   *tickets.Engine
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store: storage.NewStore(db),
		fake:  platformtest.New(),
		now:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.fake.AddChannel(platform.Channel{ID: "ann", GuildID: guildID, Name: "announcements"})
	f.pipeline = transcript.New(f.store, f.fake, alert.Nop{}, transcript.Options{})
	t.Cleanup(f.pipeline.Stop)

	catalog := tickets.NewCatalog(tickets.DefaultTypes(deployment)...)
	f.engine = tickets.NewEngine(f.store, f.fake, catalog, lock.NewMemory(), f.pipeline, tickets.Options{
		Now: func() time.Time { return f.now },
	})
	return f
}

func member(id string, roles ...string) platform.Member {
	return platform.Member{
		User:    platform.User{ID: id, Username: "user" + id},
		GuildID: guildID,
		Roles:   roles,
	}
}

var (
	creator = member("1", "r-member")
	admin   = member("2", "r-admin")
	tcA     = member("3", "r-tc")
	tcB     = member("4", "r-tc")
	tcC     = member("5", "r-tc")
	outside = member("6", "r-member")
	muted   = member("7", "r-member", "r-muted")
)

func (f *fixture) create(t *testing.T, typ string) string {
	t.Helper()
	channelID, err := f.engine.Create(context.Background(), tickets.CreateRequest{
		Type: typ, Name: "Frozen Resonance", GuildID: guildID, Actor: creator,
	})
	require.NoError(t, err)
	return channelID
}

func (f *fixture) ticket(t *testing.T, channelID string) *storage.Ticket {
	t.Helper()
	tk, err := f.store.TicketByChannel(context.Background(), channelID)
	require.NoError(t, err)
	return tk
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to storage.TicketStatus
		want     bool
	}{
		{storage.StatusOpen, storage.StatusClosed, true},
		{storage.StatusClosed, storage.StatusOpen, true},
		{storage.StatusClosed, storage.StatusVerified, true},
		{storage.StatusOpen, storage.StatusVerified, false},
		{storage.StatusVerified, storage.StatusOpen, false},
		{storage.StatusVerified, storage.StatusClosed, false},
		{storage.StatusOpen, storage.StatusDeleted, true},
		{storage.StatusVerified, storage.StatusDeleted, true},
		{storage.StatusDeleted, storage.StatusDeleted, false},
		{storage.StatusDeleted, storage.StatusOpen, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tickets.CanTransition(tt.from, tt.to))
		})
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	channelID := f.create(t, "libsubs")

	ch, ok := f.fake.ChannelSnapshot(channelID)
	require.True(t, ok)
	assert.Equal(t, "📚-frozen-resonance", ch.Name)
	assert.Equal(t, "cat-open", ch.ParentID)

	tk := f.ticket(t, channelID)
	assert.Equal(t, storage.StatusOpen, tk.Status)
	assert.Equal(t, creator.User.ID, tk.CreatorID)
	assert.Equal(t, "Frozen Resonance", tk.Name)

	pins, err := f.fake.PinnedMessages(context.Background(), channelID)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, creator.User.ID, tickets.FindCreator(pins))

	ow, ok := f.fake.OverwriteFor(channelID, creator.User.ID)
	require.True(t, ok)
	assert.True(t, ow.Allow.Has(platform.PermSend))

	ann, ok := f.fake.LastMessage("ann")
	require.True(t, ok)
	assert.Contains(t, ann.Content, platform.MentionChannel(channelID))
}

func TestChannelNameKeepsRunesWhole(t *testing.T) {
	tt := tickets.TicketType{Prefix: "📚-"}

	name := tt.ChannelName(strings.Repeat("a", 89) + "éé")
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, "📚-"+strings.Repeat("a", 89)+"é", name)

	name = tt.ChannelName(strings.Repeat("謎", 95))
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, 92, utf8.RuneCountInString(name))
}

func TestCreateCountsNameInCharacters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	channelID, err := f.engine.Create(ctx, tickets.CreateRequest{
		Type: "libsubs", Name: strings.Repeat("謎", 30), GuildID: guildID, Actor: creator,
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("謎", 30), f.ticket(t, channelID).Name)

	_, err = f.engine.Create(ctx, tickets.CreateRequest{
		Type: "libsubs", Name: strings.Repeat("謎", 81), GuildID: guildID, Actor: creator,
	})
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))
}

func TestCreatePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, tickets.CreateRequest{Type: "libsubs", Name: "x", GuildID: guildID, Actor: muted})
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))

	_, err = f.engine.Create(ctx, tickets.CreateRequest{Type: "libsubs", Name: "x", GuildID: guildID, Actor: member("8")})
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))

	_, err = f.engine.Create(ctx, tickets.CreateRequest{Type: "nope", Name: "x", GuildID: guildID, Actor: creator})
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))

	_, err = f.engine.Create(ctx, tickets.CreateRequest{Type: "libsubs", Name: "   ", GuildID: guildID, Actor: creator})
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))

	live, err := f.store.LiveTickets(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestCloseAndReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")

	require.NoError(t, f.engine.Close(ctx, channelID, creator))
	assert.Equal(t, storage.StatusClosed, f.ticket(t, channelID).Status)

	ch, _ := f.fake.ChannelSnapshot(channelID)
	assert.Equal(t, "cat-closed", ch.ParentID)
	ow, _ := f.fake.OverwriteFor(channelID, creator.User.ID)
	assert.True(t, ow.Deny.Has(platform.PermSend))

	last, _ := f.fake.LastMessage(channelID)
	assert.Contains(t, last.Content, "["+tickets.ButtonOpen+"]")
	assert.Contains(t, last.Content, "["+tickets.ButtonVerify+"]")
	assert.Contains(t, last.Content, platform.MentionRole("r-tc"))

	err := f.engine.Close(ctx, channelID, creator)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))

	_, err = f.engine.Verify(ctx, channelID, tcA)
	require.NoError(t, err)

	require.NoError(t, f.engine.Open(ctx, channelID, admin))
	tk := f.ticket(t, channelID)
	assert.Equal(t, storage.StatusOpen, tk.Status)

	vs, err := f.store.Verifications(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, vs)

	ch, _ = f.fake.ChannelSnapshot(channelID)
	assert.Equal(t, "cat-open", ch.ParentID)
	ow, _ = f.fake.OverwriteFor(channelID, creator.User.ID)
	assert.True(t, ow.Allow.Has(platform.PermSend))

	err = f.engine.Open(ctx, channelID, admin)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))
}

func TestCloseRequiresOwnerOrManager(t *testing.T) {
	f := newFixture(t)
	channelID := f.create(t, "libsubs")

	err := f.engine.Close(context.Background(), channelID, outside)
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))
	assert.Equal(t, storage.StatusOpen, f.ticket(t, channelID).Status)
}

func TestPlatformFailureLeavesTicketUnchanged(t *testing.T) {
	f := newFixture(t)
	channelID := f.create(t, "libsubs")
	f.fake.Fail("EditChannel", errors.New("missing access"))

	err := f.engine.Close(context.Background(), channelID, creator)
	assert.True(t, tickets.IsKind(err, tickets.KindTransient))
	assert.Equal(t, storage.StatusOpen, f.ticket(t, channelID).Status)
}

func TestNotATicket(t *testing.T) {
	f := newFixture(t)
	f.fake.AddChannel(platform.Channel{ID: "general", GuildID: guildID, Name: "general"})

	err := f.engine.Close(context.Background(), "general", admin)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))
}

func TestLibsubsNeedsTwoVerifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")
	require.NoError(t, f.engine.Close(ctx, channelID, creator))

	res, err := f.engine.Verify(ctx, channelID, tcA)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.False(t, res.Verified)
	assert.Equal(t, storage.StatusClosed, f.ticket(t, channelID).Status)

	res, err = f.engine.Verify(ctx, channelID, tcB)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.True(t, res.Verified)

	tk := f.ticket(t, channelID)
	assert.Equal(t, storage.StatusVerified, tk.Status)
	ch, _ := f.fake.ChannelSnapshot(channelID)
	assert.Equal(t, "cat-verified", ch.ParentID)
	last, _ := f.fake.LastMessage(channelID)
	assert.Contains(t, last.Content, "["+tickets.ButtonTranscript+"]")

	_, err = f.engine.Verify(ctx, channelID, tcC)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))

	vs, err := f.store.Verifications(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, vs, 2)
}

func TestVerifyRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")

	_, err := f.engine.Verify(ctx, channelID, tcA)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition), "open tickets cannot be verified")

	require.NoError(t, f.engine.Close(ctx, channelID, creator))

	_, err = f.engine.Verify(ctx, channelID, outside)
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))

	_, err = f.engine.Verify(ctx, channelID, tcA)
	require.NoError(t, err)
	_, err = f.engine.Verify(ctx, channelID, tcA)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))

	vs, err := f.store.Verifications(ctx, f.ticket(t, channelID).ID)
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	calcs := f.create(t, "calcs")
	require.NoError(t, f.engine.Close(ctx, calcs, creator))
	_, err = f.engine.Verify(ctx, calcs, tcA)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))
}

func TestConcurrentVerifyPromotesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")
	require.NoError(t, f.engine.Close(ctx, channelID, creator))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		promoted int
	)
	for _, v := range []platform.Member{tcA, tcB, tcC} {
		wg.Add(1)
		go func(v platform.Member) {
			defer wg.Done()
			res, err := f.engine.Verify(ctx, channelID, v)
			if err == nil && res.Verified {
				mu.Lock()
				promoted++
				mu.Unlock()
			}
		}(v)
	}
	wg.Wait()

	assert.Equal(t, 1, promoted)
	vs, err := f.store.Verifications(ctx, f.ticket(t, channelID).ID)
	require.NoError(t, err)
	assert.Len(t, vs, 2)
}

func TestRenameCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")

	require.NoError(t, f.engine.Rename(ctx, channelID, creator, "Burst Resonance"))
	first := f.ticket(t, channelID)
	assert.Equal(t, "Burst Resonance", first.Name)
	ch, _ := f.fake.ChannelSnapshot(channelID)
	assert.Equal(t, "📚-burst-resonance", ch.Name)

	f.now = f.now.Add(2 * time.Minute)
	err := f.engine.Rename(ctx, channelID, creator, "Too Soon")
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))
	assert.True(t, tickets.IsRateLimited(err))

	second := f.ticket(t, channelID)
	assert.Equal(t, "Burst Resonance", second.Name)
	assert.True(t, first.LastRename.Time.Equal(second.LastRename.Time))

	f.now = f.now.Add(4 * time.Minute)
	require.NoError(t, f.engine.Rename(ctx, channelID, admin, "Later"))
	assert.Equal(t, "Later", f.ticket(t, channelID).Name)
}

func TestDeleteIsTwoPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")

	res, err := f.engine.Delete(ctx, channelID, admin, false)
	require.NoError(t, err)
	assert.True(t, res.NeedsConfirmation)
	_, ok := f.fake.ChannelSnapshot(channelID)
	assert.True(t, ok)

	res, err = f.engine.Delete(ctx, channelID, admin, true)
	require.NoError(t, err)
	assert.False(t, res.NeedsConfirmation)
	require.NotNil(t, res.Transcript)

	f.pipeline.Wait()

	_, ok = f.fake.ChannelSnapshot(channelID)
	assert.False(t, ok)
	_, err = f.store.TicketByChannel(ctx, channelID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	tr, err := f.store.TranscriptBySlug(ctx, res.Transcript.Slug)
	require.NoError(t, err)
	assert.True(t, tr.CompletedAt.Valid)
	assert.Positive(t, tr.MessageCount)
}

func TestDeleteRefusesWhileDeletionQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")

	f.fake.Fail("Messages", errors.New("gateway timeout"))
	res, err := f.engine.Delete(ctx, channelID, admin, true)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	f.pipeline.Wait()

	queued, err := f.store.DeletionQueued(ctx, channelID)
	require.NoError(t, err)
	assert.True(t, queued)

	_, err = f.engine.Delete(ctx, channelID, admin, true)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))
	_, err = f.engine.Delete(ctx, channelID, admin, false)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))

	qs, err := f.store.QueuedTranscripts(ctx)
	require.NoError(t, err)
	assert.Len(t, qs, 1)
	_, ok := f.fake.ChannelSnapshot(channelID)
	assert.True(t, ok)
}

func TestCreatorDeleteGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")

	f.now = f.now.Add(4 * time.Minute)
	res, err := f.engine.Delete(ctx, channelID, creator, false)
	require.NoError(t, err)
	assert.True(t, res.NeedsConfirmation)

	f.now = f.now.Add(2 * time.Minute)
	_, err = f.engine.Delete(ctx, channelID, creator, false)
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))

	_, err = f.engine.Delete(ctx, channelID, outside, false)
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))
}

func TestConvert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.AddChannel(platform.Channel{ID: "500", GuildID: guildID, Name: "old-submission"})
	f.fake.AddMessage(platform.Message{ID: "501", ChannelID: "500", Content: "Ticket created by <@42>.", Pinned: true})
	f.fake.AddMember(member("42", "r-member"))

	report := f.engine.Convert(ctx, tickets.ConvertRequest{Type: "libsubs", ChannelID: "500", GuildID: guildID, Actor: admin, Status: storage.StatusClosed})
	assert.Contains(t, report, platform.MentionUser("42"))

	tk := f.ticket(t, "500")
	assert.Equal(t, "42", tk.CreatorID)
	assert.Equal(t, storage.StatusClosed, tk.Status)
	assert.Equal(t, "old-submission", tk.Name)
}

func TestConvertFallsBackToActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.AddChannel(platform.Channel{ID: "600", GuildID: guildID, Name: "mystery"})

	report := f.engine.Convert(ctx, tickets.ConvertRequest{Type: "calcs", ChannelID: "600", GuildID: guildID, Actor: admin})
	assert.Contains(t, report, platform.MentionUser(admin.User.ID))
	assert.Equal(t, admin.User.ID, f.ticket(t, "600").CreatorID)

	report = f.engine.Convert(ctx, tickets.ConvertRequest{Type: "calcs", ChannelID: "600", GuildID: guildID, Actor: outside})
	assert.Contains(t, report, "not allowed")

	report = f.engine.Convert(ctx, tickets.ConvertRequest{Type: "calcs", ChannelID: "missing", GuildID: guildID, Actor: admin})
	assert.Equal(t, "Could not find that channel.", report)
}

func TestTransferAndParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")
	helper := member("9", "r-member")

	err := f.engine.AddParticipant(ctx, channelID, creator, helper)
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))

	require.NoError(t, f.engine.AddParticipant(ctx, channelID, admin, helper))
	_, ok := f.fake.OverwriteFor(channelID, helper.User.ID)
	assert.True(t, ok)

	contributors, err := f.store.Contributors(ctx, f.ticket(t, channelID).ID)
	require.NoError(t, err)
	assert.Contains(t, contributors, helper.User.ID)

	err = f.engine.RemoveParticipant(ctx, channelID, admin, creator)
	assert.True(t, tickets.IsKind(err, tickets.KindPrecondition))

	require.NoError(t, f.engine.RemoveParticipant(ctx, channelID, admin, helper))
	_, ok = f.fake.OverwriteFor(channelID, helper.User.ID)
	assert.False(t, ok)

	err = f.engine.TransferOwner(ctx, channelID, admin, muted)
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))

	require.NoError(t, f.engine.TransferOwner(ctx, channelID, admin, helper))
	assert.Equal(t, helper.User.ID, f.ticket(t, channelID).CreatorID)
}

func TestRequestTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")

	_, err := f.engine.RequestTranscript(ctx, channelID, outside, "")
	assert.True(t, tickets.IsKind(err, tickets.KindPermissionDenied))

	tr, err := f.engine.RequestTranscript(ctx, channelID, creator, "")
	require.NoError(t, err)
	f.pipeline.Wait()

	got, err := f.store.TranscriptBySlug(ctx, tr.Slug)
	require.NoError(t, err)
	assert.True(t, got.CompletedAt.Valid)
	_, ok := f.fake.ChannelSnapshot(channelID)
	assert.True(t, ok, "a plain transcript keeps the channel")
}

func TestChannelNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.create(t, "libsubs")

	require.NoError(t, f.engine.HandleChannelRenamed(ctx, channelID, "📚-renamed-by-hand"))
	assert.Equal(t, "renamed-by-hand", f.ticket(t, channelID).Name)

	require.NoError(t, f.engine.HandleChannelDeleted(ctx, channelID))
	_, err := f.store.TicketByChannel(ctx, channelID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, f.engine.HandleChannelDeleted(ctx, "unknown"))
}
