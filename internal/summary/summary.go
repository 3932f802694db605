package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/recorder"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/tools"
)

// EmptyCallText is the whole summary of a call with nothing recorded
const EmptyCallText = "Thank you for the call"

// DateLayout is how dates are written in summaries
const DateLayout = "02 January 2006"

// Source tells how a summary was produced
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Summary is the invoice-style text produced once per call
type Summary struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Generator turns a prompt into text
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Writer produces call summaries with a text generation model
type Writer struct {
	gen Generator
}

// NewWriter creates a summary writer
func NewWriter(gen Generator) *Writer {
	return &Writer{gen: gen}
}

// Write asks the model for the summary of snapshot. Callers decide whether
// to retry or fall back on error.
func (w *Writer) Write(ctx context.Context, snapshot recorder.Snapshot) (Summary, error) {
	if w.gen == nil {
		return Summary{}, fmt.Errorf("no summary generator configured")
	}

	text, err := w.gen.Generate(ctx, Prompt(snapshot))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to generate summary: %w", err)
	}

	return Summary{
		SessionID: snapshot.SessionID,
		Text:      strings.TrimSpace(text),
		Source:    SourceModel,
		CreatedAt: time.Now(),
	}, nil
}

// callDate is the date printed on the summary. It is taken from the
// snapshot so that reruns produce the same document.
func callDate(snapshot recorder.Snapshot) string {
	at := snapshot.EndedAt
	if at.IsZero() {
		at = snapshot.StartedAt
	}
	if at.IsZero() {
		at = time.Now()
	}
	return at.Format(DateLayout)
}

// Prompt builds the invoice-style generation prompt for snapshot
func Prompt(snapshot recorder.Snapshot) string {
	date := callDate(snapshot)

	var b strings.Builder
	b.WriteString("You are a helpful assistant.\n\n")
	b.WriteString("Based on the following CALL TRANSCRIPT & DATABASE QUERIES, summarize the user's inquired products into a WhatsApp-style readable invoice-like format.\n\n")
	b.WriteString("IMPORTANT NOTES:\n")
	b.WriteString("- The customer has only inquired about the items, not purchased them.\n")
	b.WriteString("- Format output like a clean product invoice, with quantity, unit price, total price per item (if available).\n")
	b.WriteString("- If quantity or price is not available, don't show the item in the invoice.\n")
	b.WriteString("- At the end, add a line with the Total Estimated Cost summing only the items with valid total prices.\n")
	b.WriteString("- ALWAYS include a separate and prominent section clearly showing APPOINTMENT details if present.\n")
	b.WriteString("- Look for information under \"APPOINTMENT BOOKING\", \"APPOINTMENT SUMMARY\", or \"CALENDAR QUERY\" sections.\n")
	b.WriteString("- If appointments are found, format them clearly with date, time, and status.\n")
	b.WriteString("- Keep the tone polite and informative.\n")
	b.WriteString("- Keep the message with proper line breaks and spaces as this response will be converted into PDF format.\n")
	fmt.Fprintf(&b, "- Include today's date as %s.\n", date)
	fmt.Fprintf(&b, "- If no transcript is available, just say %q.\n", EmptyCallText)
	b.WriteString("- Do not include currency symbols. Just use INR.\n\n")
	b.WriteString("Here is the input:\n\n")
	if snapshot.Empty() {
		b.WriteString("(no transcript available)\n\n")
	} else {
		b.WriteString(snapshot.Transcript())
	}
	b.WriteString("Generate output in this format:\n\n")
	b.WriteString("Product Inquiry Summary\n")
	b.WriteString("Date: [Date]\n\n")
	b.WriteString("Requested Items: [List of general items, e.g., Bearings, Impellers]\n\n")
	b.WriteString("S.No   Product Name               Quantity    Unit Price    Total Price\n")
	b.WriteString("1      [Product Name]             [Qty]       [INR]         [INR]\n")
	b.WriteString("...\n\n")
	b.WriteString("Total Estimated Cost: INR [total]\n\n")
	b.WriteString("APPOINTMENT DETAILS (if any):\n")
	b.WriteString("Date: [Date]\n")
	b.WriteString("Time: [Time]\n")
	b.WriteString("Status: [Confirmed/Pending]\n\n")
	b.WriteString("No need to provide the calendar link.\n")
	b.WriteString("Note: This is only a summary of product inquiries. Let us know if you'd like to proceed or have any other questions.\n")
	b.WriteString("Thank you for your inquiry!\n")

	return b.String()
}

// Fallback builds a summary from the log alone, for when the model is
// unavailable. The result depends only on the snapshot.
func Fallback(snapshot recorder.Snapshot) Summary {
	s := Summary{
		SessionID: snapshot.SessionID,
		Source:    SourceFallback,
		CreatedAt: time.Now(),
	}
	if snapshot.Empty() {
		s.Text = EmptyCallText
		return s
	}

	var b strings.Builder
	b.WriteString("Product Inquiry Summary\n")
	fmt.Fprintf(&b, "Date: %s\n\n", callDate(snapshot))

	var queries []string
	for _, inv := range snapshot.Invocations() {
		args, ok := inv.Args.(tools.SearchArgs)
		if !ok || inv.Status != tools.StatusCompleted {
			continue
		}
		answer, _ := inv.Result.(string)
		queries = append(queries, fmt.Sprintf("%d. %s\n   %s", len(queries)+1, args.Query, strings.TrimSpace(answer)))
	}
	if len(queries) > 0 {
		b.WriteString("Requested Items:\n")
		b.WriteString(strings.Join(queries, "\n"))
		b.WriteString("\n\n")
	}

	if appts := snapshot.Appointments(); len(appts) > 0 {
		b.WriteString("APPOINTMENT DETAILS:\n")
		for _, appt := range appts {
			fmt.Fprintf(&b, "Time: %s\n", appt.Time)
			b.WriteString("Status: Confirmed\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Note: This is only a summary of product inquiries. Let us know if you'd like to proceed or have any other questions.\n")
	b.WriteString("Thank you for your inquiry!")

	s.Text = b.String()
	return s
}
