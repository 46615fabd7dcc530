// Package commands implements the bot's command handlers: /start,
// /sub, /unsub, /rss and /export, including the access checks and the
// channel-targeting flow shared between them.
package commands

import (
	"context"
	"strconv"
	"strings"

	"rssbot/internal/client"
	"rssbot/internal/storage"
	"rssbot/internal/transport"
	"rssbot/pkg/logx"
)

// Database is the subscription slice of the feed store the handlers use.
type Database interface {
	Subscribe(chat int64, link string, fetched *client.ParsedFeed) bool
	Unsubscribe(chat int64, link string) (*storage.Feed, bool)
	IsSubscribed(chat int64, link string) bool
	SubscribedFeeds(chat int64) []*storage.Feed
}

// Puller validates a feed URL by fetching and parsing it once.
type Puller interface {
	Pull(ctx context.Context, url string) (*client.ParsedFeed, error)
}

// Registrar registers command endpoints; satisfied by the telegram
// adapter.
type Registrar interface {
	HandleCommand(endpoint string, fn func(ctx context.Context, msg transport.Message))
}

type Config struct {
	// Admins, when non-empty, puts the bot in private mode: only the
	// listed user ids may issue commands.
	Admins []int64
	// Restricted limits group commands to group administrators.
	Restricted bool
}

type Handler struct {
	cfg    Config
	log    logx.Logger
	bot    transport.Bot
	db     Database
	puller Puller
	botID  int64
}

func New(cfg Config, bot transport.Bot, db Database, puller Puller, botID int64, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{cfg: cfg, log: log, bot: bot, db: db, puller: puller, botID: botID}
}

// Register wires every command endpoint, each wrapped in the shared
// access check.
func (h *Handler) Register(reg Registrar) {
	guard := func(fn func(ctx context.Context, msg transport.Message, r *responder)) func(context.Context, transport.Message) {
		return func(ctx context.Context, msg transport.Message) {
			r := h.respondTo(msg)
			if !h.allowed(ctx, msg, r) {
				return
			}
			fn(ctx, msg, r)
		}
	}
	reg.HandleCommand("/start", guard(h.start))
	reg.HandleCommand("/sub", guard(h.sub))
	reg.HandleCommand("/unsub", guard(h.unsub))
	reg.HandleCommand("/rss", guard(h.rss))
	reg.HandleCommand("/export", guard(h.export))
}

// allowed applies private mode, the channel prohibition and restricted
// mode, replying with the reason where one is user-visible.
func (h *Handler) allowed(ctx context.Context, msg transport.Message, r *responder) bool {
	if len(h.cfg.Admins) > 0 && !contains(h.cfg.Admins, msg.SenderID) {
		h.log.Warn("command from unauthorized sender",
			logx.Int64("sender", msg.SenderID),
			logx.String("text", msg.Text))
		return false
	}
	switch {
	case msg.Chat.Type == transport.ChatChannel:
		_ = r.update(ctx, "Commands posted in channels are not supported. Message me directly and pass the channel as an argument instead.", nil)
		return false
	case h.cfg.Restricted && msg.Chat.IsGroupKind():
		if h.isChatAdmin(ctx, msg) {
			return true
		}
		_ = r.update(ctx, "Only group administrators can use this command.", nil)
		return false
	}
	return true
}

func (h *Handler) isChatAdmin(ctx context.Context, msg transport.Message) bool {
	// Anonymous group admins post as the group itself; there is no user
	// id to check against the admin list.
	if msg.SenderIsAnonymous {
		return true
	}
	admins, err := h.bot.ChatAdministrators(ctx, msg.Chat.ID)
	if err != nil {
		h.log.Warn("admin list lookup failed", logx.Int64("chat", msg.Chat.ID), logx.Err(err))
		return false
	}
	for _, m := range admins {
		if m.UserID == msg.SenderID {
			return true
		}
	}
	return false
}

// resolveChannel turns a /sub-style channel argument into a chat id
// after verifying the sender administers the channel and the bot can
// post to it. A zero return with nil error means the check failed and
// the user already got an explanation.
func (h *Handler) resolveChannel(ctx context.Context, msg transport.Message, channel string, r *responder) (int64, error) {
	if msg.SenderIsAnonymous {
		return 0, r.update(ctx, "Anonymous senders cannot manage channel subscriptions.", nil)
	}
	if err := r.update(ctx, "Verifying the channel, please wait...", nil); err != nil {
		return 0, err
	}

	var (
		chat transport.Chat
		err  error
	)
	if id, convErr := strconv.ParseInt(channel, 10, 64); convErr == nil {
		chat, err = h.bot.ChatByID(ctx, id)
	} else {
		chat, err = h.bot.ChatByName(ctx, strings.TrimPrefix(channel, "@"))
	}
	if err != nil {
		if te, ok := transport.AsError(err); ok && te.Kind == transport.KindChatNotFound {
			return 0, r.update(ctx, "Unable to find the target channel.", nil)
		}
		return 0, err
	}
	if chat.Type != transport.ChatChannel {
		return 0, r.update(ctx, "The target must be a channel.", nil)
	}

	admins, err := h.bot.ChatAdministrators(ctx, chat.ID)
	if err != nil {
		if te, ok := transport.AsError(err); ok && te.Kind == transport.KindChatNotFound {
			return 0, r.update(ctx, "Unable to read the channel's administrator list.", nil)
		}
		return 0, err
	}
	userIsAdmin, botIsAdmin := false, false
	for _, m := range admins {
		if m.UserID == msg.SenderID {
			userIsAdmin = true
		}
		if m.UserID == h.botID {
			botIsAdmin = true
		}
	}
	if !userIsAdmin {
		return 0, r.update(ctx, "Only the channel's administrators can use this command.", nil)
	}
	if !botIsAdmin {
		return 0, r.update(ctx, "Please add me as a channel administrator first.", nil)
	}
	return chat.ID, nil
}

func logErr(msg transport.Message, err error) []logx.Field {
	return []logx.Field{logx.Int64("chat", msg.Chat.ID), logx.Err(err)}
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

var htmlOpts = &transport.SendOptions{ParseMode: "HTML", DisableWebPagePreview: true}

// responder is the send-then-edit reply pattern: the first update sends
// a reply to the command, later updates edit that reply in place so
// multi-step flows ("verifying...", then the result) stay one message.
type responder struct {
	sender  transport.Sender
	chat    int64
	replyTo int
	ref     transport.MessageRef
	sent    bool
}

func (h *Handler) respondTo(msg transport.Message) *responder {
	return &responder{sender: h.bot, chat: msg.Chat.ID, replyTo: msg.ID}
}

func (r *responder) update(ctx context.Context, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{DisableWebPagePreview: true}
	}
	if r.sent {
		return r.sender.EditMessage(ctx, r.ref, text, opt)
	}
	o := *opt
	o.ReplyTo = r.replyTo
	ref, err := r.sender.SendMessage(ctx, r.chat, text, &o)
	if err != nil {
		return err
	}
	r.ref = ref
	r.sent = true
	return nil
}
