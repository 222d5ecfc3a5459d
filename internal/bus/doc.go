// Package bus implements the in-process event fabric connecting the
// device manager to the rule engine, sinks, and live feeds.
//
// Queues are bounded. The rule-engine queue blocks publishers briefly
// before dropping the oldest event; live-view queues drop immediately.
// Per-device sequence numbers let consumers detect gaps after drops.
package bus
