package storage

import (
	"hash/fnv"
	"time"

	"rssbot/internal/client"
)

// Feed is one subscribed feed and its diffing state.
type Feed struct {
	Link  string `json:"link"`
	Title string `json:"title"`
	// TTL is the source-advertised re-fetch interval in minutes.
	TTL *uint32 `json:"ttl,omitempty"`
	// Hashes identifies the items seen in the most recent fetch.
	Hashes      []uint64 `json:"hash_list"`
	Subscribers []int64  `json:"subscribers"`
	// DownSince is set while the feed is continuously failing to fetch.
	DownSince *time.Time `json:"down_since,omitempty"`
}

func (f *Feed) clone() *Feed {
	cp := *f
	cp.Hashes = append([]uint64(nil), f.Hashes...)
	cp.Subscribers = append([]int64(nil), f.Subscribers...)
	if f.TTL != nil {
		ttl := *f.TTL
		cp.TTL = &ttl
	}
	if f.DownSince != nil {
		at := *f.DownSince
		cp.DownSince = &at
	}
	return &cp
}

// ChangeEvent is a diff result from Update: either a batch of new items
// or a title rename.
type ChangeEvent interface{ changeEvent() }

type NewItems struct {
	Items []client.Item
}

type TitleChanged struct {
	NewTitle string
}

func (NewItems) changeEvent()     {}
func (TitleChanged) changeEvent() {}

// itemHash identifies an item across fetches: the guid when the source
// provides one, otherwise link+title.
func itemHash(it client.Item) uint64 {
	h := fnv.New64a()
	if it.ID != "" {
		_, _ = h.Write([]byte(it.ID))
	} else {
		_, _ = h.Write([]byte(it.Link))
		_, _ = h.Write([]byte(it.Title))
	}
	return h.Sum64()
}

func itemHashes(items []client.Item) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = itemHash(it)
	}
	return out
}
