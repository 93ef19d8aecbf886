// Package binder turns validated workflow inputs into a graph document ready
// for submission. A static layout table tells it which template to load for a
// workflow, under which node id prefix the template's nodes live, and which
// node inputs receive each user parameter. Reference images are spliced in as
// a linear chain of synthesized nodes ending at the guider.
package binder
