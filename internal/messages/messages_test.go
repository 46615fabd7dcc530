package messages

import (
	"strings"
	"testing"
)

func TestEscape(t *testing.T) {
	t.Parallel()
	got := Escape(`<b>Tom & Jerry</b>`)
	want := "&lt;b&gt;Tom &amp; Jerry&lt;/b&gt;"
	if got != want {
		t.Fatalf("Escape() = %q, want %q", got, want)
	}
}

func TestFormatLargeSingleMessage(t *testing.T) {
	t.Parallel()
	msgs := FormatLarge("<b>Feed</b>", []string{"one", "two"}, func(s string) string { return s })
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if msgs[0] != "<b>Feed</b>\none\ntwo" {
		t.Fatalf("msgs[0] = %q", msgs[0])
	}
}

func TestFormatLargeSplits(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("x", 1000)
	items := []string{line, line, line, line, line, line}
	msgs := FormatLarge("head", items, func(s string) string { return s })

	if len(msgs) < 2 {
		t.Fatalf("len(msgs) = %d, want split", len(msgs))
	}
	total := 0
	for i, m := range msgs {
		if len(m) > TelegramMaxMsgLen {
			t.Fatalf("msgs[%d] is %d bytes, over the limit", i, len(m))
		}
		if !strings.HasPrefix(m, "head\n") {
			t.Fatalf("msgs[%d] missing heading: %q", i, m[:20])
		}
		total += strings.Count(m, line)
	}
	if total != len(items) {
		t.Fatalf("items across messages = %d, want %d", total, len(items))
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"fits", "short", 10, "short"},
		{"exact", "short", 5, "short"},
		{"cut", "abcdefgh", 7, "abcd…"},
		{"rune boundary", "aé" + strings.Repeat("x", 10), 6, "aé…"},
		{"tiny max", "abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if len(got) > tt.max {
				t.Fatalf("Truncate(%q, %d) is %d bytes", tt.in, tt.max, len(got))
			}
		})
	}
}

func TestFormatLargeOversizedLine(t *testing.T) {
	t.Parallel()
	items := []string{"before", strings.Repeat("y", TelegramMaxMsgLen+500), "after"}
	msgs := FormatLarge("head", items, func(s string) string { return s })

	for i, m := range msgs {
		if len(m) > TelegramMaxMsgLen {
			t.Fatalf("msgs[%d] is %d bytes, over the limit", i, len(m))
		}
	}
	joined := strings.Join(msgs, "\n")
	if !strings.Contains(joined, "before") || !strings.Contains(joined, "after") {
		t.Fatalf("surrounding lines lost: %d messages", len(msgs))
	}
}

func TestFormatLargeEmptyItems(t *testing.T) {
	t.Parallel()
	msgs := FormatLarge("head", nil, func(s string) string { return s })
	if len(msgs) != 1 || msgs[0] != "head" {
		t.Fatalf("msgs = %q", msgs)
	}
}
