// Package dispatch fans queued messages out to each bot's broadcast groups.
//
// Concepts
//
// Every bot gets one worker owning a mutable ordered queue and a resumable
// cursor (message index, group index). A pass walks the queue and, per
// message, every group in the broadcast set, throttled by the bot's
// configured delays. Pausing is cooperative: the loop checks the flag at
// group and message boundaries only, so an in-flight send always completes.
//
// Delivery semantics
//
// Best-effort, at-most-once per pass: a failed group send is logged and
// skipped, never retried within the pass and never fatal to it.
package dispatch
