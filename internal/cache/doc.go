// Package cache defines the edge cache that sits between the route table and
// the upstream backends. Entries are keyed by route name plus request path
// (query strings are folded into a sha1 marker) and carry the upstream status
// and headers so a hit can be replayed without contacting the backend. Two
// backends are provided: a disk store (temp file + rename, StoragePath/<route>)
// and a Redis store for deployments that run several edge replicas.
package cache
