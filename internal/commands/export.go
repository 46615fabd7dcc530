package commands

import (
	"context"

	"rssbot/internal/opml"
	"rssbot/internal/transport"
)

func (h *Handler) export(ctx context.Context, msg transport.Message, r *responder) {
	target, ok := h.listTarget(ctx, msg, r)
	if !ok {
		return
	}

	feeds := h.db.SubscribedFeeds(target)
	if len(feeds) == 0 {
		if err := r.update(ctx, "The subscription list is empty.", nil); err != nil {
			h.log.Warn("export reply failed", logErr(msg, err)...)
		}
		return
	}

	contents, err := opml.FromFeeds(feeds).Marshal()
	if err != nil {
		h.log.Error("opml render failed", logErr(msg, err)...)
		_ = r.update(ctx, "Export failed, please try again later.", nil)
		return
	}
	doc := transport.Document{
		Name:     "feeds.opml",
		MIME:     "text/xml",
		Contents: contents,
	}
	if err := h.bot.SendDocument(ctx, msg.Chat.ID, doc, msg.ID); err != nil {
		h.log.Warn("export upload failed", logErr(msg, err)...)
	}
}
