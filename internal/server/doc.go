// Package server hosts the two Fiber HTTP services of the binary. The edge
// app resolves request paths against an ordered RouteTable (exact, then
// longest prefix, then catch-all), stamps the CORS header set on every
// response and hands matched requests to a ProxyHandler. The shell app bridges
// browser requests into the offline client layer, gating traffic until the
// active worker has finished activation. Keep exports narrow and accept
// explicit dependencies so tests can inject fake handlers.
package server
