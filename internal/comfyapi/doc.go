// Package comfyapi is the HTTP client for a ComfyUI-compatible backend:
// prompt submission, execution history, system stats, image upload and the
// URLs of the WebSocket feed and the image viewer.
package comfyapi
