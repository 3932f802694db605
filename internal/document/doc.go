// Package document renders call summaries as PDF files for delivery.
package document
