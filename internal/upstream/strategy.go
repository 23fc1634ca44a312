package upstream

import (
	"net/http"
	"time"
)

// ProfileOverrides 描述来自路由配置的覆盖项；零值表示沿用预设。
type ProfileOverrides struct {
	Match           MatchKind
	CacheControl    string
	CacheRules      []CacheRule
	EdgeTTL         time.Duration
	CacheEverything *bool
	HeadAsGet       *bool
	FailureMode     FailureMode
	Headers         map[string]string
}

// ResolveProfile 将预设的默认策略与路由级覆盖合并。路由声明的 CacheRules
// 排在预设规则之前，因此可以覆盖同一后缀。
func ResolveProfile(meta KindMetadata, opts ProfileOverrides) Profile {
	profile := meta.Profile
	if opts.Match != "" {
		profile.Match = opts.Match
	}
	if opts.CacheControl != "" {
		profile.CacheControl = opts.CacheControl
	}
	if len(opts.CacheRules) > 0 {
		rules := make([]CacheRule, 0, len(opts.CacheRules)+len(profile.CacheRules))
		rules = append(rules, opts.CacheRules...)
		rules = append(rules, profile.CacheRules...)
		profile.CacheRules = rules
	} else {
		profile.CacheRules = append([]CacheRule(nil), profile.CacheRules...)
	}
	if opts.EdgeTTL > 0 {
		profile.EdgeTTL = opts.EdgeTTL
	}
	if opts.CacheEverything != nil {
		profile.CacheEverything = *opts.CacheEverything
	}
	if opts.HeadAsGet != nil {
		profile.HeadAsGet = *opts.HeadAsGet
	}
	if opts.FailureMode != "" {
		profile.FailureMode = opts.FailureMode
	}
	profile.Headers = mergeHeaders(profile.Headers, opts.Headers)
	return normalizeProfile(profile)
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(override))
	for key, value := range base {
		merged[http.CanonicalHeaderKey(key)] = value
	}
	for key, value := range override {
		merged[http.CanonicalHeaderKey(key)] = value
	}
	return merged
}

func normalizeProfile(profile Profile) Profile {
	if profile.Match == "" {
		profile.Match = MatchPrefix
	}
	if profile.EdgeTTL < 0 {
		profile.EdgeTTL = 0
	}
	if profile.FailureMode == "" {
		profile.FailureMode = FailureText
	}
	if profile.CacheControl == "" {
		profile.CacheControl = "no-cache"
	}
	return profile
}
