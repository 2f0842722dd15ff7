// Package http fetches dataset objects over plain HTTP(S).
//
// Keys are resolved against a base URL, so a manifest at
// https://cdn.example.com/models/bunny/manifest.json and its chunks are read
// through a client rooted at https://cdn.example.com/.
//
// This package handles:
//   - Connection pooling sized for parallel chunk fetches
//   - HEAD requests to get object metadata
//   - Optional retry with exponential backoff (off by default)
//
// # Usage
//
//	client, err := http.NewClient("https://cdn.example.com/", http.DefaultOptions())
//
//	// Use as a stream.Fetcher
//	s, err := stream.New(client, consumer)
//
//	// Object metadata
//	info, err := client.Stat(ctx, "models/bunny/manifest.json")
package http
