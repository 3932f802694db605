// Package summary turns a sealed call log into the invoice-style inquiry
// summary sent to the caller.
package summary
