// Package config defines configuration structures for the chunkstream CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (CHUNKSTREAM_ prefix)
//   - YAML configuration file
//
// # Structure
//
//	source: s3://datasets?region=eu-west-1   # or https://cdn.example.com/
//	manifest: models/bunny/bunny_manifest.json
//	stream:
//	  max_concurrent: 4
//	  buffer_capacity: 0      # derive from chunk count
//	  near_threshold: 5
//	  far_threshold: 10
//	  stall_timeout: 0s       # wait forever
//	  skip_failed: false
//	http:
//	  timeout: 0s
//	  retry_attempts: 0
//	  max_object_size: 64MB
//	log_level: info
//	listen_addr: ":8080"
//	metrics_addr: ":9090"
package config
