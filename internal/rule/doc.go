// Package rule evaluates point events against user-defined processing
// chains and hands survivors to sinks.
//
// A rule is a trigger selector set, an ordered node chain (filter,
// transform, aggregate, script), and sink references. Rules persist in
// SQLite and compile into immutable chains; updating a rule compiles a
// new chain and atomically swaps it in, retiring the old version so
// its pending time windows are discarded rather than flushed. A hop
// limit on dispatch breaks write-back loops between rules.
package rule
