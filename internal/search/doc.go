// Package search answers product questions from a vector index.
//
// A query is embedded, the nearest product descriptions are fetched from
// Qdrant, and a generator turns them into a spoken answer. When the index
// returns nothing, or nothing with a "text" payload, a fixed reply is used.
package search
