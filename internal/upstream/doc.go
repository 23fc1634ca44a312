// Package upstream defines the kind presets every edge route builds on. Each
// kind (tiles, magnitude, tides, info, bucket) registers default matching,
// caching and failure behaviour from its own subpackage init(); route config
// only overrides what differs. The registry is read-only after init and safe for
// concurrent lookups.
package upstream
