// Package ply decodes point-cloud chunks stored as PLY files.
//
// Only the vertex element is read. Vertex properties may be any scalar PLY
// type; x, y and z are required and red, green and blue are picked up when
// present. ASCII and both binary encodings are supported.
//
//	cloud, err := ply.Decode(data)
//	lo, hi := cloud.Bounds()
//
// [Decoder] plugs the decoder into a stream.Streamer so delivered payloads
// carry a *Cloud.
package ply
