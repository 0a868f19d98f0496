package message

import (
	"strings"
	"time"
)

// TimestampLayout is the wire form of message timestamps: RFC 3339 in UTC
// with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a message timestamp. Any RFC 3339 form is accepted.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// CompareTimestamps orders two timestamps; unparsable values fall back to
// string comparison, which is exact for TimestampLayout.
func CompareTimestamps(a, b string) int {
	ta, errA := ParseTimestamp(a)
	tb, errB := ParseTimestamp(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return ta.Compare(tb)
}

// Compare orders messages by timestamp and breaks exact ties by CID string,
// giving a total order across independently authored messages. It returns
// -1 when a is older than b, 1 when newer, and 0 only for identical
// descriptors.
func Compare(a, b *Message) int {
	if c := CompareTimestamps(a.Descriptor.MessageTimestamp, b.Descriptor.MessageTimestamp); c != 0 {
		return c
	}
	return strings.Compare(MustCID(a), MustCID(b))
}

// IsNewer reports whether a is strictly newer than b.
func IsNewer(a, b *Message) bool {
	return Compare(a, b) > 0
}

// IsOlder reports whether a is strictly older than b.
func IsOlder(a, b *Message) bool {
	return Compare(a, b) < 0
}

// Newest returns the newest message, or nil for an empty set.
func Newest(msgs []*Message) *Message {
	var newest *Message
	for _, m := range msgs {
		if newest == nil || IsNewer(m, newest) {
			newest = m
		}
	}
	return newest
}

// Oldest returns the oldest message, or nil for an empty set.
func Oldest(msgs []*Message) *Message {
	var oldest *Message
	for _, m := range msgs {
		if oldest == nil || IsOlder(m, oldest) {
			oldest = m
		}
	}
	return oldest
}
