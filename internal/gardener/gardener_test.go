package gardener

import (
	"context"
	"errors"
	"testing"

	"rssbot/internal/client"
	"rssbot/internal/storage"
	"rssbot/internal/transport"
	"rssbot/pkg/logx"
)

const botID = int64(42)

type fakeInspector struct {
	chats   map[int64]transport.Chat
	chatErr map[int64]error
	members map[int64]transport.ChatMember
}

func (f *fakeInspector) ChatByID(ctx context.Context, id int64) (transport.Chat, error) {
	if err := f.chatErr[id]; err != nil {
		return transport.Chat{}, err
	}
	return f.chats[id], nil
}

func (f *fakeInspector) ChatMemberOf(ctx context.Context, chat, user int64) (transport.ChatMember, error) {
	return f.members[chat], nil
}

func storeWith(t *testing.T, chats ...int64) *storage.Store {
	t.Helper()
	db := storage.NewMemory()
	feed := &client.ParsedFeed{Title: "t", Items: []client.Item{{ID: "a"}}}
	for _, chat := range chats {
		if !db.Subscribe(chat, "https://example.org/feed", feed) {
			t.Fatalf("Subscribe(%d) failed", chat)
		}
	}
	return db
}

func TestSweepKeepsPrivateChats(t *testing.T) {
	t.Parallel()
	db := storeWith(t, 1)
	insp := &fakeInspector{chats: map[int64]transport.Chat{1: {ID: 1, Type: transport.ChatPrivate}}}
	svc := New(Config{}, db, insp, botID, logx.Nop())

	svc.Sweep(context.Background())
	if !db.IsSubscribed(1, "https://example.org/feed") {
		t.Fatal("private chat was pruned")
	}
}

func TestSweepPrunesKickedGroups(t *testing.T) {
	t.Parallel()
	db := storeWith(t, -10, -20)
	insp := &fakeInspector{
		chats: map[int64]transport.Chat{
			-10: {ID: -10, Type: transport.ChatSuperGroup},
			-20: {ID: -20, Type: transport.ChatSuperGroup},
		},
		members: map[int64]transport.ChatMember{
			-10: {UserID: botID, Status: transport.MemberKicked},
			-20: {UserID: botID, Status: transport.MemberMember},
		},
	}
	svc := New(Config{}, db, insp, botID, logx.Nop())

	svc.Sweep(context.Background())
	if db.IsSubscribed(-10, "https://example.org/feed") {
		t.Fatal("kicked group kept its subscription")
	}
	if !db.IsSubscribed(-20, "https://example.org/feed") {
		t.Fatal("live group was pruned")
	}
}

func TestSweepPrunesVanishedChats(t *testing.T) {
	t.Parallel()
	db := storeWith(t, 7)
	insp := &fakeInspector{
		chatErr: map[int64]error{7: &transport.Error{Kind: transport.KindChatNotFound}},
	}
	svc := New(Config{}, db, insp, botID, logx.Nop())

	svc.Sweep(context.Background())
	if db.IsSubscribed(7, "https://example.org/feed") {
		t.Fatal("vanished chat kept its subscription")
	}
}

func TestSweepSkipsOnProbeError(t *testing.T) {
	t.Parallel()
	db := storeWith(t, 7)
	insp := &fakeInspector{
		chatErr: map[int64]error{7: errors.New("api timeout")},
	}
	svc := New(Config{}, db, insp, botID, logx.Nop())

	svc.Sweep(context.Background())
	if !db.IsSubscribed(7, "https://example.org/feed") {
		t.Fatal("flaky probe cost a subscriber")
	}
}
