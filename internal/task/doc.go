// Package task defines the task record that tracks one submitted job from
// submission to completion, the guarded mutation applied to it, and the
// store contract every persistence backend implements.
//
// A record is created PENDING and may be changed only while it is still
// PENDING. Every write goes through Store.UpdateIfPending, which reads the
// current record, checks the status guard and writes in one atomic step, so
// the progress listener and the completion poller never lose each other's
// updates or resurrect a finished task.
package task
