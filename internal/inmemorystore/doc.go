// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the task.Store interface.
//
// # Purpose
//
// It backs one-shot CLI runs and tests, where task records do not need to
// outlive the process.
//
// # Concurrency Model
//
// A single RWMutex guards the record map and the job ID index. Unlike a
// sync.Map, the mutex lets UpdateIfPending read the record, check the
// PENDING guard and write the result without another writer slipping in
// between, which is the only coordination the progress listener and the
// completion poller rely on.
package inmemorystore
