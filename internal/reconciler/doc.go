// Package reconciler periodically asks the backend for the history of every
// PENDING task and completes the ones that produced images.
package reconciler
