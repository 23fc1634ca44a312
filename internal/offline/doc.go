// Package offline implements the client cache layer that sits in front of the
// viewer. A Dispatcher classifies each request (navigation, tile, live-data
// pass-through, static asset) and answers it from the versioned partitions or
// the network, returning the pending cache writes as Effects instead of
// performing them. A Manager owns one deployment version through its
// install/activate lifecycle, and a Runtime hosts the active and waiting
// managers, gating requests until activation completes.
package offline
