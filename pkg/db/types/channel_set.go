package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// ChannelSet is a set of source channels persisted as a Postgres text[] literal.
type ChannelSet []enums.SourceChannel

// Contains reports whether the channel is already in the set.
func (s ChannelSet) Contains(channel enums.SourceChannel) bool {
	for _, c := range s {
		if c == channel {
			return true
		}
	}
	return false
}

// Add returns the set with channel included, keeping a stable order.
func (s ChannelSet) Add(channel enums.SourceChannel) ChannelSet {
	if s.Contains(channel) {
		return s
	}
	out := append(ChannelSet{}, s...)
	out = append(out, channel)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *ChannelSet) Scan(src any) error {
	if src == nil {
		*s = ChannelSet{}
		return nil
	}

	switch v := src.(type) {
	case string:
		return s.parseFromString(v)
	case []byte:
		return s.parseFromString(string(v))
	default:
		return fmt.Errorf("ChannelSet: unsupported Scan type %T", src)
	}
}

func (s ChannelSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	parts := make([]string, 0, len(s))
	for _, c := range s {
		parts = append(parts, string(c))
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

func (s *ChannelSet) parseFromString(raw string) error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if strings.TrimSpace(raw) == "" {
		*s = ChannelSet{}
		return nil
	}

	out := ChannelSet{}
	for _, part := range strings.Split(raw, ",") {
		channel, err := enums.ParseSourceChannel(strings.TrimSpace(strings.Trim(part, `"`)))
		if err != nil {
			return fmt.Errorf("ChannelSet: %w", err)
		}
		out = out.Add(channel)
	}
	*s = out
	return nil
}
