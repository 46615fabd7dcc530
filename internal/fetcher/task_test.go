package fetcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssbot/internal/client"
	"rssbot/internal/messages"
	"rssbot/internal/storage"
	"rssbot/internal/transport"
	"rssbot/pkg/logx"
)

type fakePuller struct {
	feed *client.ParsedFeed
	err  error
}

func (p *fakePuller) Pull(ctx context.Context, url string) (*client.ParsedFeed, error) {
	return p.feed, p.err
}

type sentMessage struct {
	Chat int64
	Text string
}

// fakeSender records successful sends and pops one scripted error per
// send attempt to a chat until the script runs out.
type fakeSender struct {
	mu     sync.Mutex
	script map[int64][]error
	sent   []sentMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{script: make(map[int64][]error)}
}

func (f *fakeSender) fail(chat int64, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[chat] = append(f.script[chat], errs...)
}

func (f *fakeSender) SendMessage(ctx context.Context, chat int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.script[chat]; len(errs) > 0 {
		f.script[chat] = errs[1:]
		return transport.MessageRef{}, errs[0]
	}
	f.sent = append(f.sent, sentMessage{Chat: chat, Text: text})
	return transport.MessageRef{ChatID: chat, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) EditMessage(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

const testLink = "https://example.org/feed.xml"

func seededStore(t *testing.T, chats ...int64) *storage.Store {
	t.Helper()
	db := storage.NewMemory()
	seed := &client.ParsedFeed{Title: "Example", Items: []client.Item{{ID: "seed", Title: "old", Link: "https://example.org/old"}}}
	for _, chat := range chats {
		require.True(t, db.Subscribe(chat, testLink, seed))
	}
	return db
}

func newTestService(db Database, puller Puller, sender transport.Sender) *Service {
	return New(Config{MinInterval: 300 * time.Second, MaxInterval: 12 * time.Hour}, db, puller, sender, logx.Nop())
}

func currentFeed(t *testing.T, db *storage.Store) *storage.Feed {
	t.Helper()
	for _, f := range db.AllFeeds() {
		if f.Link == testLink {
			return f
		}
	}
	t.Fatal("feed not found")
	return nil
}

func TestFetchAndPushDeliversNewItems(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 1, 2)
	sender := newFakeSender()
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Example",
		Items: []client.Item{
			{ID: "seed", Title: "old", Link: "https://example.org/old"},
			{ID: "new", Title: "fresh & new", Link: "https://example.org/new"},
		},
	}}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db)))

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	chats := []int64{msgs[0].Chat, msgs[1].Chat}
	assert.ElementsMatch(t, []int64{1, 2}, chats)
	for _, m := range msgs {
		assert.Contains(t, m.Text, "<b>Example</b>")
		assert.Contains(t, m.Text, `<a href="https://example.org/new">fresh &amp; new</a>`)
		assert.NotContains(t, m.Text, "old")
	}

	// Re-delivery of the same snapshot is a no-op.
	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db)))
	assert.Len(t, sender.messages(), 2)
}

func TestFetchAndPushBoundsOversizedItem(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 1)
	sender := newFakeSender()
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Example",
		Items: []client.Item{
			{ID: "seed", Title: "old", Link: "https://example.org/old"},
			{ID: "huge", Title: strings.Repeat("&", 8000), Link: "https://example.org/" + strings.Repeat("x", 2000)},
		},
	}}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db)))

	msgs := sender.messages()
	require.Len(t, msgs, 1, "the oversized item still fits one message")
	assert.LessOrEqual(t, len(msgs[0].Text), messages.TelegramMaxMsgLen)
	assert.Contains(t, msgs[0].Text, "…")
}

func TestFetchAndPushRateLimitedThenSuccess(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 1)
	sender := newFakeSender()
	sender.fail(1, &transport.Error{Kind: transport.KindRateLimited, RetryAfter: 10 * time.Millisecond})
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Example",
		Items: []client.Item{{ID: "new", Title: "new", Link: "https://example.org/new"}},
	}}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db)))
	assert.Len(t, sender.messages(), 1, "exactly one copy after the rate-limit retry")
}

func TestFetchAndPushUnreachableSubscriberDropped(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 1, 2)
	sender := newFakeSender()
	sender.fail(2, &transport.Error{Kind: transport.KindBlocked, Description: "Forbidden: bot was blocked by the user"})
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Example",
		Items: []client.Item{{ID: "new", Title: "new", Link: "https://example.org/new"}},
	}}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].Chat)
	assert.False(t, db.IsSubscribed(2, testLink), "blocked subscriber must be removed")
	assert.True(t, db.IsSubscribed(1, testLink))
}

func TestFetchAndPushMigratedChatRewritten(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 5)
	sender := newFakeSender()
	sender.fail(5, &transport.Error{Kind: transport.KindMigrated, MigratedTo: -100500})
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Example",
		Items: []client.Item{{ID: "new", Title: "new", Link: "https://example.org/new"}},
	}}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(-100500), msgs[0].Chat, "retry goes to the supergroup id")
	assert.True(t, db.IsSubscribed(-100500, testLink))
	assert.False(t, db.IsSubscribed(5, testLink))
}

func TestFetchAndPushUnclassifiedErrorAbortsBatch(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 1, 2)
	sender := newFakeSender()
	sender.fail(1, errors.New("connection reset"))
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Example",
		Items: []client.Item{{ID: "new", Title: "new", Link: "https://example.org/new"}},
	}}
	svc := newTestService(db, puller, sender)

	err := svc.fetchAndPush(context.Background(), currentFeed(t, db))
	require.Error(t, err)
	assert.Empty(t, sender.messages(), "later subscribers must not be attempted")
	assert.True(t, db.IsSubscribed(1, testLink), "unclassified errors never unsubscribe")
}

func TestFetchAndPushExhaustedAttemptsMoveOn(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 1, 2)
	sender := newFakeSender()
	limited := &transport.Error{Kind: transport.KindRateLimited, RetryAfter: time.Millisecond}
	sender.fail(1, limited, limited, limited)
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Example",
		Items: []client.Item{{ID: "new", Title: "new", Link: "https://example.org/new"}},
	}}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db)))

	msgs := sender.messages()
	require.Len(t, msgs, 1, "subscriber 2 still gets its copy")
	assert.Equal(t, int64(2), msgs[0].Chat)
	assert.True(t, db.IsSubscribed(1, testLink), "exhausted subscriber stays subscribed")
}

func TestFetchAndPushRenameNotification(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 1)
	sender := newFakeSender()
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Renamed Example",
		Items: []client.Item{{ID: "seed", Title: "old", Link: "https://example.org/old"}},
	}}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "was renamed to Renamed Example")
}

// downDB wraps a memory store with a scripted downtime answer so tests
// can simulate arbitrary outage lengths.
type downDB struct {
	*storage.Store
	down    time.Duration
	tracked bool
	resets  int
}

func (d *downDB) GetOrUpdateDownTime(link string) (time.Duration, bool) {
	return d.down, d.tracked
}

func (d *downDB) ResetDownTime(link string) { d.resets++ }

func TestFetchAndPushTransientFailureSilent(t *testing.T) {
	t.Parallel()
	db := &downDB{Store: seededStore(t, 1), down: 4 * 24 * time.Hour, tracked: true}
	sender := newFakeSender()
	puller := &fakePuller{err: client.NewFetchError(testLink, errors.New("dial tcp: timeout"))}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db.Store)))
	assert.Empty(t, sender.messages())
	assert.Zero(t, db.resets)
}

func TestFetchAndPushPersistentFailureNotifiesOnce(t *testing.T) {
	t.Parallel()
	db := &downDB{Store: seededStore(t, 1, 2), down: downTimeThreshold + time.Second, tracked: true}
	sender := newFakeSender()
	puller := &fakePuller{err: client.NewFetchError(testLink, errors.New("dial tcp: timeout"))}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db.Store)))

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Contains(t, m.Text, "failing to fetch for more than 5 days")
		assert.Contains(t, m.Text, "Last error: network error")
	}
	assert.Equal(t, 1, db.resets, "downtime resets so the warning is not repeated next round")
	assert.True(t, db.IsSubscribed(1, testLink), "failure notices never unsubscribe anyone")
}

func TestFetchAndPushFeedGoneMidFlight(t *testing.T) {
	t.Parallel()
	db := &downDB{Store: seededStore(t, 1), tracked: false}
	sender := newFakeSender()
	puller := &fakePuller{err: errors.New("boom")}
	svc := newTestService(db, puller, sender)

	require.NoError(t, svc.fetchAndPush(context.Background(), currentFeed(t, db.Store)))
	assert.Empty(t, sender.messages())
}

func TestEffectiveInterval(t *testing.T) {
	t.Parallel()
	svc := newTestService(storage.NewMemory(), &fakePuller{}, newFakeSender())
	ttl := func(minutes uint32) *uint32 { return &minutes }

	tests := []struct {
		name string
		ttl  *uint32
		want time.Duration
	}{
		{"no advertised interval", nil, 299 * time.Second},
		{"within bounds", ttl(10), 599 * time.Second},
		{"below floor", ttl(1), 299 * time.Second},
		{"above ceiling", ttl(60 * 24 * 7), 12*time.Hour - time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := svc.effectiveInterval(&storage.Feed{Link: testLink, TTL: tt.ttl})
			if got != tt.want {
				t.Fatalf("effectiveInterval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceStartDeliversAndStops(t *testing.T) {
	t.Parallel()
	db := seededStore(t, 7)
	sender := newFakeSender()
	puller := &fakePuller{feed: &client.ParsedFeed{
		Title: "Example",
		Items: []client.Item{{ID: "new", Title: "new", Link: "https://example.org/new"}},
	}}
	svc := New(Config{MinInterval: time.Second, MaxInterval: time.Second}, db, puller, sender, logx.Nop())

	svc.Start(context.Background())
	deadline := time.After(5 * time.Second)
	for len(sender.messages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no delivery within deadline")
		case <-time.After(20 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Stop(stopCtx)

	if !strings.Contains(sender.messages()[0].Text, "https://example.org/new") {
		t.Fatalf("unexpected delivery text: %q", sender.messages()[0].Text)
	}
}
