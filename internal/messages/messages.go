// Package messages builds the HTML messages the bot sends: escaping and
// pagination of item batches into Telegram-sized chunks.
package messages

import (
	"strings"
	"unicode/utf8"
)

// TelegramMaxMsgLen is Telegram's per-message text limit in bytes.
const TelegramMaxMsgLen = 4096

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape escapes text for Telegram HTML parse mode.
func Escape(s string) string {
	return htmlEscaper.Replace(s)
}

// Truncate shortens s to at most max bytes, cutting on a rune boundary
// and appending an ellipsis. Truncate before Escape: cutting escaped
// text can split an entity.
func Truncate(s string, max int) string {
	const ellipsis = "…"
	if len(s) <= max {
		return s
	}
	cut := max - len(ellipsis)
	if cut <= 0 {
		// No room for the ellipsis, hard cut.
		cut = max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut]
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

// FormatLarge renders one line per item under a repeated heading,
// splitting into multiple messages whenever the next line would push a
// message past the Telegram limit. Line order follows item order.
func FormatLarge[T any](head string, items []T, line func(T) string) []string {
	var msgs []string
	var b strings.Builder
	b.WriteString(head)
	limit := TelegramMaxMsgLen - len(head) - 1
	for _, it := range items {
		l := line(it)
		// Callers keep rendered lines well under the limit; this is the
		// last resort for a line that could never fit even alone.
		if len(l) > limit {
			l = Truncate(l, limit)
		}
		if b.Len()+len(l)+1 > TelegramMaxMsgLen {
			msgs = append(msgs, b.String())
			b.Reset()
			b.WriteString(head)
		}
		b.WriteByte('\n')
		b.WriteString(l)
	}
	msgs = append(msgs, b.String())
	return msgs
}
