package commands

import (
	"context"

	"rssbot/internal/transport"
)

const startMessage = `I watch RSS and Atom feeds and post new items here.

/rss [channel] - show the subscription list
/sub [channel] url - subscribe to a feed
/unsub [channel] url - unsubscribe from a feed
/export [channel] - export subscriptions as OPML

The channel argument targets a channel you administer instead of this chat.`

func (h *Handler) start(ctx context.Context, msg transport.Message, r *responder) {
	if err := r.update(ctx, startMessage, nil); err != nil {
		h.log.Warn("start reply failed", logErr(msg, err)...)
	}
}
