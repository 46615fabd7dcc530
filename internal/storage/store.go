package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"rssbot/internal/client"
	"rssbot/pkg/logx"
)

// Config selects the persistence driver.
//
// Driver values:
//   - "file": JSON snapshot, atomically replaced on every mutation
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type persister interface {
	load() (map[string]*Feed, error)
	save(feeds []*Feed) error
	Close() error
}

// Store holds all subscription state behind one lock. See the package
// comment for the locking discipline.
type Store struct {
	mu    sync.Mutex
	feeds map[string]*Feed
	p     persister
	log   logx.Logger
}

// Open initializes the configured store and loads existing state.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var p persister
	var err error
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		p, err = openFile(cfg)
	case "sqlite", "sqlite3":
		p, err = openSQLite(cfg)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	feeds, err := p.load()
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	log.Info("store opened", logx.String("driver", cfg.Driver), logx.Int("feeds", len(feeds)))
	return &Store{feeds: feeds, p: p, log: log}, nil
}

// NewMemory returns a store with no persistence. Used in tests.
func NewMemory() *Store {
	return &Store{feeds: map[string]*Feed{}, log: logx.Nop()}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return nil
	}
	return s.p.Close()
}

// flush persists the current state. Callers hold s.mu.
func (s *Store) flush() {
	if s.p == nil {
		return
	}
	feeds := make([]*Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		feeds = append(feeds, f)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Link < feeds[j].Link })
	if err := s.p.save(feeds); err != nil {
		s.log.Error("persisting store failed", logx.Err(err))
	}
}

// AllFeeds returns an independent snapshot of every feed.
func (s *Store) AllFeeds() []*Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Link < out[j].Link })
	return out
}

// Update diffs fetched against the stored state for link, persists the
// new state and returns the resulting change events. A second call with
// identical content yields no events. Updating an unknown link (feed
// unsubscribed mid-fetch) returns nil.
func (s *Store) Update(link string, fetched *client.ParsedFeed) []ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[link]
	if !ok {
		return nil
	}

	var events []ChangeEvent
	if fetched.Title != "" && fetched.Title != feed.Title {
		events = append(events, TitleChanged{NewTitle: fetched.Title})
		feed.Title = fetched.Title
	}

	seen := make(map[uint64]struct{}, len(feed.Hashes))
	for _, h := range feed.Hashes {
		seen[h] = struct{}{}
	}
	var fresh []client.Item
	for _, it := range fetched.Items {
		if _, ok := seen[itemHash(it)]; !ok {
			fresh = append(fresh, it)
		}
	}
	if len(fresh) > 0 {
		events = append(events, NewItems{Items: fresh})
		feed.Hashes = itemHashes(fetched.Items)
	}

	feed.TTL = fetched.TTL
	feed.DownSince = nil
	s.flush()
	return events
}

// Subscribe registers chat for link, creating the feed from fetched on
// first subscription. Items present at subscribe time are recorded as
// seen so they are not re-announced. Returns false if chat was already
// subscribed.
func (s *Store) Subscribe(chat int64, link string, fetched *client.ParsedFeed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[link]
	if !ok {
		s.feeds[link] = &Feed{
			Link:        link,
			Title:       fetched.Title,
			TTL:         fetched.TTL,
			Hashes:      itemHashes(fetched.Items),
			Subscribers: []int64{chat},
		}
		s.flush()
		return true
	}
	for _, id := range feed.Subscribers {
		if id == chat {
			return false
		}
	}
	feed.Subscribers = append(feed.Subscribers, chat)
	s.flush()
	return true
}

// Unsubscribe removes chat from link. The feed is dropped entirely when
// its last subscriber leaves. The returned feed is a snapshot of the
// state before removal.
func (s *Store) Unsubscribe(chat int64, link string) (*Feed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[link]
	if !ok {
		return nil, false
	}
	idx := -1
	for i, id := range feed.Subscribers {
		if id == chat {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	snapshot := feed.clone()
	feed.Subscribers = append(feed.Subscribers[:idx], feed.Subscribers[idx+1:]...)
	if len(feed.Subscribers) == 0 {
		delete(s.feeds, link)
	}
	s.flush()
	return snapshot, true
}

func (s *Store) IsSubscribed(chat int64, link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[link]
	if !ok {
		return false
	}
	for _, id := range feed.Subscribers {
		if id == chat {
			return true
		}
	}
	return false
}

// SubscribedFeeds returns snapshots of every feed chat subscribes to.
func (s *Store) SubscribedFeeds(chat int64) []*Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Feed
	for _, f := range s.feeds {
		for _, id := range f.Subscribers {
			if id == chat {
				out = append(out, f.clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Link < out[j].Link })
	return out
}

// GetOrUpdateDownTime reports how long link has been continuously
// failing, starting the record on first failure. ok is false when the
// link is no longer stored (unsubscribed mid-fetch).
func (s *Store) GetOrUpdateDownTime(link string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[link]
	if !ok {
		return 0, false
	}
	now := time.Now()
	if feed.DownSince == nil {
		feed.DownSince = &now
		s.flush()
		return 0, true
	}
	return now.Sub(*feed.DownSince), true
}

// ResetDownTime clears the down-time record for link.
func (s *Store) ResetDownTime(link string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[link]
	if !ok || feed.DownSince == nil {
		return
	}
	feed.DownSince = nil
	s.flush()
}

// DeleteSubscriber removes chat from every feed, dropping feeds whose
// subscriber set becomes empty.
func (s *Store) DeleteSubscriber(chat int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for link, feed := range s.feeds {
		kept := feed.Subscribers[:0]
		for _, id := range feed.Subscribers {
			if id != chat {
				kept = append(kept, id)
			}
		}
		if len(kept) != len(feed.Subscribers) {
			changed = true
			feed.Subscribers = kept
			if len(kept) == 0 {
				delete(s.feeds, link)
			}
		}
	}
	if changed {
		s.flush()
	}
}

// UpdateSubscriber rewrites old to new in every feed referencing it
// (chat upgraded to a supergroup).
func (s *Store) UpdateSubscriber(old, new int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, feed := range s.feeds {
		for i, id := range feed.Subscribers {
			if id == old {
				feed.Subscribers[i] = new
				changed = true
			}
		}
	}
	if changed {
		s.flush()
	}
}

// AllSubscribers returns the distinct subscriber ids across all feeds.
func (s *Store) AllSubscribers() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[int64]struct{}{}
	for _, feed := range s.feeds {
		for _, id := range feed.Subscribers {
			set[id] = struct{}{}
		}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FeedCount reports how many feeds are stored.
func (s *Store) FeedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}
