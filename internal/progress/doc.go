// Package progress prints human-readable streaming progress.
//
// The Reporter is a stream.Observer: pass it to the streamer with
// stream.WithObserver and call Start once the manifest is known.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Source: key})
//	s, _ := stream.New(fetcher, consumer, stream.WithObserver(reporter))
//	sess, _ := s.Load(ctx, key)
//	reporter.Start(manifest)
//	defer reporter.Stop()
//
// # Output Format
//
//	[chunkstream] Streaming: models/bunny/bunny_manifest.json
//	[chunkstream] Total size: 12.40 MB | Chunks: 60 | Records: 812000 | Concurrency: 4
//	[chunkstream] Progress: 45.2% | 5.60 MB / 12.40 MB | Speed: 3.10 MB/s
//	[chunkstream] Chunks: 27 delivered | 6 buffered | 4 in-flight | 0 failed
package progress
