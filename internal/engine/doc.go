// Package engine is the facade the CLI and other front ends drive. It binds
// workflow inputs into graphs, submits them, runs the progress listener and
// the completion poll loop, and exposes the task store.
package engine
