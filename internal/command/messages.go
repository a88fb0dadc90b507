package command

// User-facing strings, kept in one place so a deployment can localize them.

const (
	msgWelcomePublic = "🤖 Welcome!\n\nI'm an AI assistant, here to help with your questions.\n\n" +
		"Model: %s\nRate limit: %d messages per minute\n\nType /help to see the available commands."

	msgWelcomePrivate = "🤖 Welcome to the chat integration!\n\nYou have access to multiple AI models " +
		"and can switch between them with /model.\n\nCurrent model: %s\n\nType /help to see all available commands."

	msgSessionCleared = "🗑 Conversation cleared. Your next message starts a fresh context."

	msgModelSwitched = "✅ Model switched to %s."

	msgModelInvalid = "❌ %q is not an available model."

	msgModelSwitchDisabled = "❌ Model switching is not enabled for this integration."

	msgCommandUnknown = "Unknown command. Type /help to see the available commands."

	msgCommandNotAllowed = "❌ The /%s command is not available here.\n\nAvailable commands:\n%s"

	msgPrivateOnly = "❌ This command is only available on private integrations."
)

var commandDescriptions = map[string]string{
	"start":    "Show the welcome message",
	"help":     "Show this help message",
	"status":   "Show session status",
	"clear":    "Clear the conversation context",
	"model":    "Show or switch the active model",
	"models":   "List available models",
	"settings": "Show user settings",
}
