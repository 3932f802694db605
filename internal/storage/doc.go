// Package storage puts rendered summary documents where the caller can
// download them.
//
// Objects are keyed by session id, so a rerun of the post-call pipeline
// overwrites the same object instead of creating another. Backends are a
// Supabase Storage bucket (public or signed URLs) and S3 with presigned
// URLs. MemoryStore serves local runs and tests.
package storage
