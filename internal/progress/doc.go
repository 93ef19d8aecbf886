// Package progress turns backend execution events into task record updates.
//
// Every write is a guarded store update, so an event that arrives after the
// completion reconciler finished a task changes nothing. Status transitions
// belong to the reconciler; this package only moves labels, percentages and
// step counters.
package progress
