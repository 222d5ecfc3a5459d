// Package databoard streams live point events to dashboard clients
// over WebSocket.
//
// Clients connect to the configured path and subscribe with bus-style
// patterns ("deviceID/pointID", "deviceID/*", "*"). The hub fans each
// broadcast out to matching clients without blocking: a client that
// cannot keep up loses messages rather than stalling the feed.
package databoard
