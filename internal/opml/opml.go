// Package opml renders subscription lists as OPML 1.0 documents, the
// interchange format most feed readers accept for import.
package opml

import (
	"encoding/xml"

	"rssbot/internal/storage"
)

type Document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

type Head struct {
	Title string `xml:"title"`
}

type Body struct {
	Outlines []Outline `xml:"outline"`
}

type Outline struct {
	Type   string `xml:"type,attr"`
	Text   string `xml:"text,attr"`
	XMLURL string `xml:"xmlUrl,attr"`
}

// FromFeeds builds an export document for one chat's subscriptions.
func FromFeeds(feeds []*storage.Feed) Document {
	outlines := make([]Outline, 0, len(feeds))
	for _, feed := range feeds {
		outlines = append(outlines, Outline{
			Type:   "rss",
			Text:   feed.Title,
			XMLURL: feed.Link,
		})
	}
	return Document{
		Version: "1.0",
		Head:    Head{Title: "Subscriptions"},
		Body:    Body{Outlines: outlines},
	}
}

// Marshal renders the document with an XML declaration and indentation,
// ready to be uploaded as a file.
func (d Document) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "    ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
