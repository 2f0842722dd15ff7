// Package relay streams chunked datasets to websocket clients.
//
// Each connection owns one stream.Streamer. The client drives it with JSON
// text messages:
//
//	{"type": "load", "manifest": "scans/room/manifest.json"}
//	{"type": "cancel"}
//
// A load replaces the active one; the server first reports the replaced
// load as cancelled. For every load the server sends a "started" message,
// then one "chunk" header per chunk in priority order, each immediately
// followed by a binary frame holding the chunk bytes, and finally
// "complete" or "failed". Malformed requests are answered with "error".
package relay
