// Package app contains the core application logic. It wires settings, the
// task store, the backend client and the engine together and runs one
// command, decoupled from any specific entrypoint like a CLI.
package app
