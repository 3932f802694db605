// Package plivo is a small REST client for the Plivo APIs the voice bot
// needs after the media stream is up: WhatsApp template and text messages
// for post-call delivery, and hanging up a live call.
//
// Requests are authenticated with the account auth id and token, bounded by
// a concurrency semaphore and counted for the /stats endpoint. The client
// does not retry; callers classify failures with IsRetryable.
package plivo
