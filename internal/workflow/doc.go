// Package workflow holds the registry of workflow definitions and turns loose
// user-supplied values into validated, typed input values.
package workflow
