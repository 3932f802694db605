// Package tools decodes and dispatches the function calls issued by the
// realtime engine.
//
// The tool set is closed: every tool name maps to one Kind (search,
// schedule, lookup, hangup) and one typed Args variant. Decoding rejects
// unknown names, disabled kinds, unknown argument fields and unparsable
// times with ErrInvalidToolCall.
//
// The Dispatcher runs each valid call on its kind's Handler in the
// background, bounded by a timeout, and reports the terminal Invocation
// through a callback. Each correlation id is accepted once; repeats get
// ErrAlreadyProcessing and never reach a backend.
package tools
