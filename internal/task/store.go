package task

import "context"

// Store persists task records. Implementations must make UpdateIfPending a
// single atomic read-check-write.
type Store interface {
	// Insert adds a new record. Job IDs are unique.
	Insert(ctx context.Context, r *Record) error
	// UpdateIfPending applies m to the record with the given ID if it is
	// still PENDING. It returns the record as stored afterwards and whether
	// the mutation was applied. A non-PENDING record is returned unchanged
	// with applied == false and no error.
	UpdateIfPending(ctx context.Context, id string, m Mutation) (rec *Record, applied bool, err error)
	// Get returns the record with the given ID.
	Get(ctx context.Context, id string) (*Record, error)
	// GetByJobID returns the record for a backend job ID.
	GetByJobID(ctx context.Context, jobID string) (*Record, error)
	// ListPending returns every PENDING record.
	ListPending(ctx context.Context) ([]*Record, error)
	// ListAll returns every record, newest first.
	ListAll(ctx context.Context) ([]*Record, error)
	// Watch emits the full ListAll result now and after every change until
	// ctx is done. Slow readers only see the latest list.
	Watch(ctx context.Context) (<-chan []*Record, error)
	// Delete removes a record.
	Delete(ctx context.Context, id string) error
	// Close releases the store's resources.
	Close() error
}
