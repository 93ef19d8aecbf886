// Package graph models the computation-graph document submitted to the
// backend.
//
// A Document maps node ids to nodes. Each node carries a class tag and a set of
// named inputs; an input is either a literal value or a Ref to an output slot of
// another node in the same document. On the wire a Ref is the two-element array
// `["<node id>", <slot>]`, which is the only array shape the decoder treats as a
// reference.
//
// The package never interprets what a node does. Validate only checks the
// structural invariants a caller relies on before submission: every reference
// resolves to a node in the document, and references form no cycle.
package graph
