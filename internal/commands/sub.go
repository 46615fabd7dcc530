package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rssbot/internal/client"
	"rssbot/internal/messages"
	"rssbot/internal/transport"
)

func (h *Handler) sub(ctx context.Context, msg transport.Message, r *responder) {
	target, feedURL, ok := h.subscriptionTarget(ctx, msg, r, "Usage: /sub [channel] <feed URL>")
	if !ok {
		return
	}

	if h.db.IsSubscribed(target, feedURL) {
		_ = r.update(ctx, "Already subscribed to that feed.", nil)
		return
	}
	if err := r.update(ctx, "Processing, please wait...", nil); err != nil {
		h.log.Warn("sub reply failed", logErr(msg, err)...)
		return
	}

	fetched, err := h.puller.Pull(ctx, feedURL)
	if err != nil {
		_ = r.update(ctx, "Subscription failed: "+messages.Escape(userFriendly(err)), nil)
		return
	}

	var text string
	if h.db.Subscribe(target, feedURL, fetched) {
		title := fetched.Title
		if title == "" {
			title = feedURL
		}
		text = fmt.Sprintf("Subscribed to <a href=\"%s\">%s</a>", messages.Escape(feedURL), messages.Escape(title))
	} else {
		text = "Already subscribed to that feed."
	}
	if err := r.update(ctx, text, htmlOpts); err != nil {
		h.log.Warn("sub reply failed", logErr(msg, err)...)
	}
}

// subscriptionTarget parses the shared "[channel] url" argument shape of
// /sub and /unsub.
func (h *Handler) subscriptionTarget(ctx context.Context, msg transport.Message, r *responder, usage string) (int64, string, bool) {
	args := strings.Fields(msg.Payload)
	switch len(args) {
	case 1:
		return msg.Chat.ID, args[0], true
	case 2:
		id, err := h.resolveChannel(ctx, msg, args[0], r)
		if err != nil {
			h.log.Warn("channel check failed", logErr(msg, err)...)
			return 0, "", false
		}
		if id == 0 {
			return 0, "", false
		}
		return id, args[1], true
	default:
		_ = r.update(ctx, usage, nil)
		return 0, "", false
	}
}

func userFriendly(err error) string {
	var fe *client.FetchError
	if errors.As(err, &fe) {
		return fe.UserFriendly()
	}
	return err.Error()
}
