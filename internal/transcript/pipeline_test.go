package transcript_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ticketbot/internal/platform"
	"github.com/user/ticketbot/internal/platform/platformtest"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/transcript"
)

const (
	guildID   = "100"
	channelID = "9001"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (r *recordingNotifier) Alert(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, text)
	return nil
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

type fixture struct {
	store    *storage.Store
	fake     *platformtest.Fake
	alerts   *recordingNotifier
	pipeline *transcript.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store:  storage.NewStore(db),
		fake:   platformtest.New(),
		alerts: &recordingNotifier{},
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.pipeline = transcript.New(f.store, f.fake, f.alerts, transcript.Options{
		PageSize:      100,
		ProgressEvery: 1000,
		Now:           func() time.Time { return now },
	})
	t.Cleanup(f.pipeline.Stop)

	f.fake.AddChannel(platform.Channel{ID: channelID, GuildID: guildID, Name: "📚-frozen-resonance"})
	return f
}

// seed adds messages with ids from..to (inclusive) written by two alternating authors.
func (f *fixture) seed(from, to int) {
	for i := from; i <= to; i++ {
		author := platform.User{ID: "u" + strconv.Itoa(i%2), Username: "user" + strconv.Itoa(i%2)}
		f.fake.AddMessage(platform.Message{
			ID:        strconv.Itoa(i),
			ChannelID: channelID,
			Content:   "message " + strconv.Itoa(i),
			Author:    author,
			Timestamp: time.Unix(int64(i), 0).UTC(),
		})
	}
}

func TestShortChannelCompletesInOnePage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, 42)

	tr, err := f.pipeline.Start(ctx, transcript.StartRequest{ChannelID: channelID, StartID: "1000", TranscriberID: "u1"})
	require.NoError(t, err)
	f.pipeline.Wait()

	assert.Equal(t, 1, f.fake.PageRequests[channelID])

	queued, err := f.store.QueuedTranscripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)

	got, err := f.store.TranscriptByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, got.CompletedAt.Valid)
	assert.Equal(t, 42, got.MessageCount)

	participants, err := f.store.TranscriptParticipants(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestLowerBoundStopsExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, 800)

	tr, err := f.pipeline.Start(ctx, transcript.StartRequest{ChannelID: channelID, StartID: "1000", UpTo: "500"})
	require.NoError(t, err)
	f.pipeline.Wait()

	count, err := f.store.TranscriptMessageCount(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, count)
	// three full pages, then one that hits the bound immediately
	assert.Equal(t, 4, f.fake.PageRequests[channelID])

	oldest, err := f.store.TranscriptMessages(ctx, tr.ID, "502", 10)
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, "501", oldest[0].MessageID)

	queued, err := f.store.QueuedTranscripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestResumeContinuesFromCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, 200)

	tr := &storage.Transcript{Slug: "resumed", ChannelID: channelID, ChannelName: "resumed", ServerID: guildID, CreatedAt: time.Now()}
	q := &storage.QueuedTranscript{ChannelID: channelID, Latest: "", CreatedAt: time.Now()}
	require.NoError(t, f.store.CreateTranscript(ctx, tr, q))

	// a previous process committed the newest 50 messages before stopping
	var first []storage.TranscriptMessage
	for i := 200; i > 150; i-- {
		first = append(first, storage.TranscriptMessage{
			MessageID: strconv.Itoa(i), ChannelID: channelID, AuthorID: "u0", CreatedAt: time.Unix(int64(i), 0),
			Attachments: []byte("null"), Reactions: []byte("null"), Embeds: []byte("null"),
			Components: []byte("null"), Mentions: []byte("null"), Stickers: []byte("null"),
		})
	}
	require.NoError(t, f.store.CommitTranscriptPage(ctx, storage.PageCommit{
		QueueID: q.ID, TranscriptID: tr.ID, Latest: "151", Fetched: 50, Messages: first,
	}))

	n, err := f.pipeline.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.pipeline.Wait()

	assert.Equal(t, 2, f.fake.PageRequests[channelID])

	got, err := f.store.TranscriptByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, got.CompletedAt.Valid)
	assert.Equal(t, 200, got.MessageCount)
}

func TestMissingChannelAbandonsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr := &storage.Transcript{Slug: "gone", ChannelID: "404", ChannelName: "gone", ServerID: guildID, CreatedAt: time.Now()}
	q := &storage.QueuedTranscript{ChannelID: "404", Latest: "10", CreatedAt: time.Now()}
	require.NoError(t, f.store.CreateTranscript(ctx, tr, q))

	_, err := f.pipeline.Resume(ctx)
	require.NoError(t, err)
	f.pipeline.Wait()

	queued, err := f.store.QueuedTranscripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)

	got, err := f.store.TranscriptByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, got.CompletedAt.Valid)
	require.Len(t, f.alerts.all(), 1)
	assert.Contains(t, f.alerts.all()[0], "abandoned")
}

func TestStepFailureKeepsCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, 30)
	f.fake.Fail("Messages", errors.New("gateway timeout"))

	tr, err := f.pipeline.Start(ctx, transcript.StartRequest{ChannelID: channelID})
	require.NoError(t, err)
	f.pipeline.Wait()

	queued, err := f.store.QueuedTranscripts(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, tr.ID, queued[0].TranscriptID)

	_, err = f.pipeline.Resume(ctx)
	require.NoError(t, err)
	f.pipeline.Wait()

	count, err := f.store.TranscriptMessageCount(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, count)
}

func TestProgressMessageReportsCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, 42)
	f.fake.AddChannel(platform.Channel{ID: "77", GuildID: guildID, Name: "bot-commands"})
	progress, err := f.fake.SendMessage(ctx, "77", platform.MessageSend{Content: "Transcribing..."})
	require.NoError(t, err)

	_, err = f.pipeline.Start(ctx, transcript.StartRequest{
		ChannelID:         channelID,
		ProgressChannelID: "77",
		ProgressMessageID: progress.ID,
	})
	require.NoError(t, err)
	f.pipeline.Wait()

	msg, err := f.fake.Message(ctx, "77", progress.ID)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "Transcript complete: 42 messages")
}

func TestDeleteChannelAfterTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, 5)

	now := time.Now().UTC()
	require.NoError(t, f.store.CreateTicket(ctx, &storage.Ticket{
		ChannelID: channelID, Name: "frozen resonance", Type: "libsubs", Status: storage.StatusClosed,
		CreatorID: "u1", ServerID: guildID, CreatedAt: now, LastMessage: now,
	}, storage.User{DiscordID: "u1", ServerID: guildID, Username: "user1"}))

	_, err := f.pipeline.Start(ctx, transcript.StartRequest{ChannelID: channelID, DeleteChannel: true})
	require.NoError(t, err)
	f.pipeline.Wait()

	assert.Equal(t, []string{channelID}, f.fake.Deleted)
	_, err = f.store.TicketByChannel(ctx, channelID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSlugCandidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var slugs []string
	for i := 0; i < 4; i++ {
		tr, err := f.pipeline.Start(ctx, transcript.StartRequest{ChannelID: channelID})
		require.NoError(t, err)
		slugs = append(slugs, tr.Slug)
	}
	f.pipeline.Wait()

	unix := strconv.FormatInt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix(), 10)
	assert.Equal(t, "frozen-resonance", slugs[0])
	assert.Equal(t, "frozen-resonance-"+channelID, slugs[1])
	assert.Equal(t, "frozen-resonance-"+channelID+"-"+unix, slugs[2])
	assert.Len(t, slugs[3], 36)
}
