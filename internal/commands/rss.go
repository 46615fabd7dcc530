package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"rssbot/internal/messages"
	"rssbot/internal/storage"
	"rssbot/internal/transport"
)

func (h *Handler) rss(ctx context.Context, msg transport.Message, r *responder) {
	target, ok := h.listTarget(ctx, msg, r)
	if !ok {
		return
	}

	feeds := h.db.SubscribedFeeds(target)
	if len(feeds) == 0 {
		if err := r.update(ctx, "The subscription list is empty.", nil); err != nil {
			h.log.Warn("rss reply failed", logErr(msg, err)...)
		}
		return
	}
	sort.Slice(feeds, func(i, j int) bool {
		return strings.ToLower(feeds[i].Title) < strings.ToLower(feeds[j].Title)
	})

	pages := messages.FormatLarge("Subscriptions:", feeds, func(feed *storage.Feed) string {
		title := messages.Truncate(feed.Title, 256)
		link := messages.Truncate(feed.Link, 512)
		return fmt.Sprintf("<a href=\"%s\">%s</a>", messages.Escape(link), messages.Escape(title))
	})
	if err := r.update(ctx, pages[0], htmlOpts); err != nil {
		h.log.Warn("rss reply failed", logErr(msg, err)...)
		return
	}
	// Overflow pages chain as replies to the previous one.
	prev := r.ref
	for _, page := range pages[1:] {
		o := *htmlOpts
		o.ReplyTo = prev.MessageID
		ref, err := h.bot.SendMessage(ctx, msg.Chat.ID, page, &o)
		if err != nil {
			h.log.Warn("rss page failed", logErr(msg, err)...)
			return
		}
		prev = ref
	}
}

// listTarget parses the optional "[channel]" argument shared by /rss
// and /export.
func (h *Handler) listTarget(ctx context.Context, msg transport.Message, r *responder) (int64, bool) {
	args := strings.Fields(msg.Payload)
	if len(args) == 0 {
		return msg.Chat.ID, true
	}
	id, err := h.resolveChannel(ctx, msg, args[0], r)
	if err != nil {
		h.log.Warn("channel check failed", logErr(msg, err)...)
		return 0, false
	}
	if id == 0 {
		return 0, false
	}
	return id, true
}
