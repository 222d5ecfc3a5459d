// Package poll schedules periodic device reads. Each poll-driven
// device gets a jittered ticker; overlapping ticks are skipped rather
// than queued, and consecutive failures past a threshold escalate to a
// callback.
package poll
