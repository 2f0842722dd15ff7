// Package stream progressively streams a chunked dataset into a consumer.
//
// A dataset is a manifest plus many independently fetchable chunk objects
// stored next to it. The [Streamer] loads the manifest, fetches chunks with
// bounded concurrency, parks completed payloads in a bounded [ReadyBuffer],
// and hands them to a [Consumer] strictly in priority order. It is
// storage-agnostic via the [Fetcher] interface; [BucketFetcher] serves any
// gocloud.dev/blob bucket.
//
// # Loading
//
//	s, err := stream.New(fetcher, consumer,
//	    stream.WithMaxConcurrent(4),
//	    stream.WithThresholds(5, 10),
//	)
//	sess, err := s.Load(ctx, "models/bunny/bunny_manifest.json")
//	err = sess.Wait(ctx)
//
// Load returns once the manifest is parsed and streaming has started.
// Manifest failures are returned directly (wrapping [ErrManifestUnavailable]
// or [ErrManifestMalformed]). Calling Load again cancels the previous
// session first.
//
// # Cancellation
//
// Every load runs under a [Session]. [Streamer.Cancel] aborts in-flight
// fetches, drops buffered payloads and returns only once no further callback
// for that session can happen. Fetches that complete after cancellation are
// discarded.
//
// # Buffering
//
// The scheduler never launches a fetch unless the ready buffer has room for
// its payload. When the buffer is full anyway, the eviction policy keeps the
// entries closest to the consumption cursor:
//
//	distance <= near:       evict the farthest entry beyond near, else reject
//	distance >  far:        reject
//	otherwise:              evict the farthest entry if it is farther
//	                        than the incoming one, else reject
//
// # Manifest Format
//
//	{
//	  "totalRecords": 1200000,
//	  "chunkCount": 2,
//	  "overallBounds": {"min": [-1, -1, -1], "max": [1, 1, 1]},
//	  "targetChunkSizeBytes": 209715,
//	  "chunks": [
//	    {"identifier": "chunk_0000.ply", "recordCount": 10485, "byteSize": 157523,
//	     "bounds": {"min": [0, 0, 0], "max": [1, 1, 1]}, "priority": 0},
//	    ...
//	  ]
//	}
//
// The snake_case format written by the point-cloud chunker (total_vertices,
// overall_bounding_box, file_size_bytes, ...) is accepted as well.
package stream
