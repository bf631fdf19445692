package enums

import "fmt"

// SourceChannel identifies how a status event reached the engine.
type SourceChannel string

const (
	// SourceChannelPush is a provider-initiated callback.
	SourceChannelPush SourceChannel = "push"
	// SourceChannelPull is a status query issued by us.
	SourceChannelPull SourceChannel = "pull"
	// SourceChannelSystem marks entries written by the engine itself.
	SourceChannelSystem SourceChannel = "system"
)

var validSourceChannels = []SourceChannel{
	SourceChannelPush,
	SourceChannelPull,
	SourceChannelSystem,
}

func (c SourceChannel) String() string {
	return string(c)
}

func (c SourceChannel) IsValid() bool {
	for _, candidate := range validSourceChannels {
		if candidate == c {
			return true
		}
	}
	return false
}

func ParseSourceChannel(value string) (SourceChannel, error) {
	for _, candidate := range validSourceChannels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid source channel %q", value)
}
