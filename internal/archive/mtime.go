// Package archive extracts source tarballs into working trees and writes
// reproducible tar archives from them.
package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MtimePolicy decides the modification time recorded for archive entries
type MtimePolicy struct {
	fixed *time.Time
}

// Preserve keeps the timestamps known from the inputs
func Preserve() MtimePolicy {
	return MtimePolicy{}
}

// Fixed stamps every entry with t
func Fixed(t time.Time) MtimePolicy {
	t = t.UTC().Truncate(time.Second)
	return MtimePolicy{fixed: &t}
}

// IsFixed reports whether the policy overrides input timestamps
func (p MtimePolicy) IsFixed() bool {
	return p.fixed != nil
}

// Time returns the fixed timestamp, nil when timestamps are preserved
func (p MtimePolicy) Time() *time.Time {
	return p.fixed
}

// Stamp returns the timestamp to record for an entry whose input time is t
func (p MtimePolicy) Stamp(t time.Time) time.Time {
	if p.fixed != nil {
		return *p.fixed
	}
	return t.UTC().Truncate(time.Second)
}

// String describes the policy
func (p MtimePolicy) String() string {
	if p.fixed == nil {
		return "preserve"
	}
	return p.fixed.Format(time.RFC3339)
}

// ParseMtime parses an RFC 3339 timestamp, a YYYY-MM-DD date or @<unix seconds>
func ParseMtime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty mtime")
	}
	if strings.HasPrefix(s, "@") {
		secs, err := strconv.ParseInt(s[1:], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch mtime %q: %w", s, err)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid mtime %q (expected RFC 3339, YYYY-MM-DD or @<epoch>)", s)
}
