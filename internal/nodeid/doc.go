// internal/nodeid/doc.go

/*
Package nodeid provides a structured, type-safe representation for node
identifiers inside a graph document.

The backend keys nodes by string. Nodes that live inside a subgraph carry the
container's id as a prefix, separated by a colon, e.g. `75:73`. Synthesized
nodes use indexed segments, e.g. `dynamic_ref[2]:vae`.

This package enforces the identifier schema and centralizes all formatting and
parsing logic, so callers never splice id strings together by hand.
*/
package nodeid
