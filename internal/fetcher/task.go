package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rssbot/internal/client"
	"rssbot/internal/messages"
	"rssbot/internal/storage"
	"rssbot/internal/transport"
)

// downTimeThreshold is how long a feed may fail continuously before
// subscribers are told about it.
const downTimeThreshold = 5 * 24 * time.Hour

// maxDeliveryAttempts bounds retries per subscriber within one fan-out.
const maxDeliveryAttempts = 3

// Byte caps applied to raw item text before HTML escaping. Escaping
// expands at most 5x ("&" to "&amp;"), so a capped line stays inside
// one Telegram message.
const (
	maxItemTitleLen = 256
	maxItemLinkLen  = 512
)

var htmlOpts = &transport.SendOptions{ParseMode: "HTML", DisableWebPagePreview: true}

// fetchAndPush is one unit of work: pull the feed, classify failure or
// diff the result, and fan resulting notifications out to subscribers.
func (s *Service) fetchAndPush(ctx context.Context, feed *storage.Feed) error {
	fetched, err := s.puller.Pull(ctx, feed.Link)
	if err != nil {
		down, tracked := s.db.GetOrUpdateDownTime(feed.Link)
		if !tracked {
			// Unsubscribed while the fetch was in flight.
			return nil
		}
		if down <= downTimeThreshold {
			// Transient failures stay invisible to subscribers.
			return nil
		}
		s.db.ResetDownTime(feed.Link)
		msg := fmt.Sprintf(
			"<a href=\"%s\">%s</a> has been failing to fetch for more than 5 days.\nLast error: %s",
			messages.Escape(feed.Link),
			messages.Escape(feed.Title),
			messages.Escape(userFriendly(err)),
		)
		return s.push(ctx, feed.Subscribers, msg, htmlOpts)
	}

	for _, event := range s.db.Update(feed.Link, fetched) {
		switch ev := event.(type) {
		case storage.NewItems:
			head := "<b>" + messages.Escape(feed.Title) + "</b>"
			msgs := messages.FormatLarge(head, ev.Items, func(it client.Item) string {
				title := it.Title
				if title == "" {
					title = feed.Title
				}
				link := it.Link
				if link == "" {
					link = feed.Link
				}
				// Bound before escaping so a pathological entry still
				// renders inside one Telegram message.
				title = messages.Truncate(title, maxItemTitleLen)
				link = messages.Truncate(link, maxItemLinkLen)
				return fmt.Sprintf("<a href=\"%s\">%s</a>", messages.Escape(link), messages.Escape(title))
			})
			for _, msg := range msgs {
				if err := s.push(ctx, feed.Subscribers, msg, htmlOpts); err != nil {
					return err
				}
			}
		case storage.TitleChanged:
			msg := fmt.Sprintf(
				"<a href=\"%s\">%s</a> was renamed to %s",
				messages.Escape(feed.Link),
				messages.Escape(feed.Title),
				messages.Escape(ev.NewTitle),
			)
			if err := s.push(ctx, feed.Subscribers, msg, htmlOpts); err != nil {
				return err
			}
		}
	}
	return nil
}

func userFriendly(err error) string {
	var fe *client.FetchError
	if errors.As(err, &fe) {
		return fe.UserFriendly()
	}
	return err.Error()
}

// push delivers one message to each subscriber with up to three attempts
// apiece. Permanently unreachable subscribers are unsubscribed and
// skipped; migrated chats are rewritten and retried; rate limits sleep
// out the mandated delay. Any unclassified transport error aborts the
// whole batch. A subscriber that exhausts its attempts is simply picked
// up again on the next scheduled delivery.
func (s *Service) push(ctx context.Context, subscribers []int64, text string, opt *transport.SendOptions) error {
	for _, subscriber := range subscribers {
	attempts:
		for attempt := 0; attempt < maxDeliveryAttempts; attempt++ {
			_, err := s.sender.SendMessage(ctx, subscriber, text, opt)
			if err == nil {
				break attempts
			}
			te, classified := transport.AsError(err)
			if !classified {
				return err
			}
			switch {
			case te.Kind == transport.KindMigrated:
				s.db.UpdateSubscriber(subscriber, te.MigratedTo)
				subscriber = te.MigratedTo
			case te.Kind == transport.KindRateLimited:
				timer := time.NewTimer(te.RetryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			case te.PermanentlyUnreachable():
				s.db.DeleteSubscriber(subscriber)
				break attempts
			default:
				return err
			}
		}
	}
	return nil
}
