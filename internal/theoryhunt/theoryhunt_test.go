package theoryhunt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/platform/platformtest"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/theoryhunt"
)

const guildID = "100"

func newService(t *testing.T) (*theoryhunt.Service, *storage.Store, *platformtest.Fake) {
	t.Helper()
	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewStore(db)
	fake := platformtest.New()
	fake.AddChannel(platform.Channel{ID: "th-open", GuildID: guildID, Name: "theoryhunts"})
	fake.AddChannel(platform.Channel{ID: "th-closed", GuildID: guildID, Name: "theoryhunt-archive"})

	svc := theoryhunt.NewService(store, fake, theoryhunt.Options{OpenChannelID: "th-open", ClosedChannelID: "th-closed"})
	return svc, store, fake
}

func draft() theoryhunt.Draft {
	return theoryhunt.Draft{
		GuildID:          guildID,
		Name:             "Swirl snapshot",
		Difficulty:       "B",
		DifficultyReason: "needs frame data",
		Requirements:     "Kazuha C0",
		Description:      "Does swirl snapshot elemental mastery?",
		Commissioners:    []platform.Member{{User: platform.User{ID: "42", Username: "commissioner"}, GuildID: guildID}},
	}
}

func TestValidateDifficulty(t *testing.T) {
	for _, ok := range []string{"A", "S", "F"} {
		assert.NoError(t, theoryhunt.ValidateDifficulty(ok), ok)
	}
	for _, bad := range []string{"", "a", "AB", "1", "-"} {
		assert.Error(t, theoryhunt.ValidateDifficulty(bad), bad)
	}
}

func TestCreatePostsSummary(t *testing.T) {
	svc, store, fake := newService(t)
	ctx := context.Background()

	h, err := svc.Create(ctx, draft())
	require.NoError(t, err)
	require.NotEmpty(t, h.MessageID)

	msg, err := fake.Message(ctx, "th-open", h.MessageID)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "Swirl snapshot")
	assert.Contains(t, msg.Content, "B - needs frame data")
	assert.Contains(t, msg.Content, "<@42>")

	stored, err := store.TheoryhuntByID(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.MessageID, stored.MessageID)
	assert.Equal(t, storage.TheoryhuntOpen, stored.State)

	bad := draft()
	bad.Difficulty = "b"
	_, err = svc.Create(ctx, bad)
	var verr *theoryhunt.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUpdateResyncsSummary(t *testing.T) {
	svc, store, fake := newService(t)
	ctx := context.Background()
	h, err := svc.Create(ctx, draft())
	require.NoError(t, err)

	_, err = svc.Update(ctx, h.ID, theoryhunt.FieldDetails, "tested on 4.6")
	require.NoError(t, err)
	msg, err := fake.Message(ctx, "th-open", h.MessageID)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "tested on 4.6")

	_, err = svc.Update(ctx, h.ID, theoryhunt.FieldDifficulty, "zz")
	assert.Error(t, err)
	_, err = svc.Update(ctx, h.ID, "colour", "red")
	assert.Error(t, err)

	stored, err := store.TheoryhuntByID(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", stored.Difficulty)
	assert.Equal(t, "tested on 4.6", stored.Details)
}

func TestSetStateMovesSummary(t *testing.T) {
	svc, store, fake := newService(t)
	ctx := context.Background()
	h, err := svc.Create(ctx, draft())
	require.NoError(t, err)
	oldID := h.MessageID

	closed, err := svc.SetState(ctx, h.ID, storage.TheoryhuntClosed)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, closed.MessageID)

	_, err = fake.Message(ctx, "th-open", oldID)
	assert.ErrorIs(t, err, platform.ErrNotFound)
	_, err = fake.Message(ctx, "th-closed", closed.MessageID)
	require.NoError(t, err)

	stored, err := store.TheoryhuntByID(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TheoryhuntClosed, stored.State)
	assert.Equal(t, closed.MessageID, stored.MessageID)

	_, err = svc.SetState(ctx, h.ID, storage.TheoryhuntClosed)
	assert.Error(t, err)
}

func TestLinkTicket(t *testing.T) {
	svc, store, fake := newService(t)
	ctx := context.Background()
	h, err := svc.Create(ctx, draft())
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.CreateTicket(ctx, &storage.Ticket{
		ChannelID: "777", Name: "swirl", Type: "libsubs", Status: storage.StatusOpen,
		CreatorID: "42", ServerID: guildID, CreatedAt: now, LastMessage: now,
	}, storage.User{DiscordID: "42", ServerID: guildID, Username: "commissioner"}))

	_, err = svc.LinkTicket(ctx, h.ID, "777")
	require.NoError(t, err)
	msg, err := fake.Message(ctx, "th-open", h.MessageID)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "<#777>")

	_, err = svc.LinkTicket(ctx, h.ID, "not-a-ticket")
	assert.Error(t, err)
	_, err = svc.LinkTicket(ctx, 999, "777")
	assert.Error(t, err)
}
