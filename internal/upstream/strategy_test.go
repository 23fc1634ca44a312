package upstream

import (
	"testing"
	"time"
)

func TestResolveProfileAppliesOverrides(t *testing.T) {
	meta := KindMetadata{
		Key: "demo",
		Profile: Profile{
			Match:        MatchPrefix,
			CacheControl: "public, max-age=60",
			CacheRules:   []CacheRule{{Suffix: ".json", CacheControl: "no-store"}},
			EdgeTTL:      time.Minute,
			HeadAsGet:    true,
			Headers:      map[string]string{"user-agent": "preset"},
		},
	}
	off := false
	profile := ResolveProfile(meta, ProfileOverrides{
		EdgeTTL:    time.Hour,
		HeadAsGet:  &off,
		CacheRules: []CacheRule{{Suffix: "latest.json", CacheControl: "max-age=5"}},
		Headers:    map[string]string{"referer": "https://viewer.example/"},
	})

	if profile.EdgeTTL != time.Hour {
		t.Fatalf("edge ttl override not applied: %s", profile.EdgeTTL)
	}
	if profile.HeadAsGet {
		t.Fatalf("head-as-get override not applied")
	}
	if got := profile.CacheDirective("/x/latest.json"); got != "max-age=5" {
		t.Fatalf("route rule should win over preset rule, got %s", got)
	}
	if got := profile.CacheDirective("/x/manifest.json"); got != "no-store" {
		t.Fatalf("preset rule should still apply, got %s", got)
	}
	if got := profile.CacheDirective("/x/tile.png"); got != "public, max-age=60" {
		t.Fatalf("default directive expected, got %s", got)
	}
	if profile.Headers["User-Agent"] != "preset" || profile.Headers["Referer"] != "https://viewer.example/" {
		t.Fatalf("headers not merged canonically: %v", profile.Headers)
	}
	if len(meta.Profile.CacheRules) != 1 {
		t.Fatalf("preset rules must not be mutated")
	}
}

func TestResolveProfileDefaults(t *testing.T) {
	profile := ResolveProfile(KindMetadata{Key: "bare"}, ProfileOverrides{})
	if profile.Match != MatchPrefix || profile.FailureMode != FailureText || profile.CacheControl == "" {
		t.Fatalf("unexpected defaults: %+v", profile)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := newRegistry()
	if err := r.register(KindMetadata{Key: "Tiles"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.register(KindMetadata{Key: "tiles"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, ok := r.resolve(" TILES "); !ok {
		t.Fatalf("resolve should normalize key")
	}
}
