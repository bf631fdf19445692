package dbtypes

import (
	"testing"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

func TestChannelSetAddIsIdempotent(t *testing.T) {
	set := ChannelSet{}
	set = set.Add(enums.SourceChannelPush)
	set = set.Add(enums.SourceChannelPull)
	set = set.Add(enums.SourceChannelPush)

	if len(set) != 2 {
		t.Fatalf("expected 2 channels, got %v", set)
	}
	if set[0] != enums.SourceChannelPull || set[1] != enums.SourceChannelPush {
		t.Fatalf("expected sorted set, got %v", set)
	}
}

func TestChannelSetValueAndScan(t *testing.T) {
	set := ChannelSet{enums.SourceChannelPull, enums.SourceChannelPush}
	value, err := set.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if value != "{pull,push}" {
		t.Fatalf("unexpected literal %v", value)
	}

	var scanned ChannelSet
	if err := scanned.Scan([]byte(`{"push",pull}`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !scanned.Contains(enums.SourceChannelPush) || !scanned.Contains(enums.SourceChannelPull) {
		t.Fatalf("unexpected scan result %v", scanned)
	}

	var empty ChannelSet
	if err := empty.Scan(nil); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty set, got %v err=%v", empty, err)
	}
	if err := empty.Scan("{carrier-pigeon}"); err == nil {
		t.Fatal("expected unknown channel to fail")
	}
	if err := empty.Scan(42); err == nil {
		t.Fatal("expected unsupported type to fail")
	}
}
