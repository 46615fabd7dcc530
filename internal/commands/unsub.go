package commands

import (
	"context"
	"fmt"

	"rssbot/internal/messages"
	"rssbot/internal/transport"
)

func (h *Handler) unsub(ctx context.Context, msg transport.Message, r *responder) {
	target, feedURL, ok := h.subscriptionTarget(ctx, msg, r, "Usage: /unsub [channel] <feed URL>")
	if !ok {
		return
	}

	var text string
	var opt *transport.SendOptions
	if feed, removed := h.db.Unsubscribe(target, feedURL); removed {
		text = fmt.Sprintf("Unsubscribed from <a href=\"%s\">%s</a>", messages.Escape(feed.Link), messages.Escape(feed.Title))
		opt = htmlOpts
	} else {
		text = "Not subscribed to that feed."
	}
	if err := r.update(ctx, text, opt); err != nil {
		h.log.Warn("unsub reply failed", logErr(msg, err)...)
	}
}
