// Package badgerstore implements task.Store on an embedded Badger database so
// task records survive restarts of the CLI.
//
// Records are stored as JSON under "task/<id>" with a "job/<job id>" index
// entry. UpdateIfPending runs inside a single read-write transaction; Badger
// aborts a transaction with ErrConflict when another one committed a write
// to a key it read, in which case the whole read-check-write is retried.
package badgerstore
