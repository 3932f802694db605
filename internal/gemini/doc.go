// Package gemini is a thin client over the Gemini API used for product
// search embeddings, conversational search answers and post-call summaries.
package gemini
