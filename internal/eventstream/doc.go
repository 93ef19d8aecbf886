// Package eventstream keeps one WebSocket connection to the backend's event
// feed and hands every text frame to a Handler.
//
// The connection is identified by a client id. Reconnecting with a new id
// tears the old socket down first, so at most one connection is live.
// Status changes are observable and WaitForConnection blocks until the
// socket is usable or a deadline passes.
package eventstream
