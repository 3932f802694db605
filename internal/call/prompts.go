package call

import (
	"fmt"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

// DefaultInstructions is the assistant persona used once the caller's role
// is known
const DefaultInstructions = "You are a helpful and bubbly AI assistant for Tec Nvirons. " +
	"You can help with general chat, answer product queries using the product database, " +
	"and book appointments. When a user wants to book an appointment, ask them directly for " +
	"their preferred date and time. Check if that specific time is available. If available, " +
	"book it immediately. If not available, inform them and ask for a different time. " +
	"Keep answers short and friendly, and quote prices in INR."

// DefaultIdentifyInstructions is the persona used while a new caller's role
// is still unknown
const DefaultIdentifyInstructions = "You are a helpful AI assistant for Tec Nvirons. " +
	"This is a new caller. Before anything else, find out whether they are a contractor " +
	"or a customer. Once they answer, help them with product information or appointment scheduling."

const (
	reaskInstructions    = "Politely ask the caller again whether they are a contractor or a customer."
	continueInstructions = "Continue with normal conversation, offering to help with product information or appointment scheduling."
)

// Greeting returns the first sentence spoken to the caller
func Greeting(brand string, p users.Participant) string {
	switch {
	case p.IsReturning() && p.Name != "":
		return fmt.Sprintf("Hey %s! Welcome back to %s. How can I help you today?", p.Name, brand)
	case p.IsReturning():
		return fmt.Sprintf("Welcome to %s! How can I help you today?", brand)
	default:
		return fmt.Sprintf("Welcome to %s! I see you're a new caller. Are you a contractor or a customer?", brand)
	}
}

func greetingInstructions(greeting string) string {
	return "Greet the caller with exactly this sentence: " + greeting
}

func thankRoleInstructions(role users.Role) string {
	return fmt.Sprintf("Thank the user for specifying they are a %s. Now continue with normal conversation, "+
		"offering to help with product information or appointment scheduling.", role)
}
