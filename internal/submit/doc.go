// Package submit sends a bound graph to the backend and records the task.
//
// Each submission gets a fresh correlation id. The event stream is
// reconnected under that id before the graph is posted, so progress events
// for the new job reach this process. If the stream does not come up in
// time the submission is aborted and nothing is posted.
package submit
