// Package command interprets slash-style bot commands against a session,
// subject to each tenant's command allow-list.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/session"
	"github.com/arashbot/gateway/internal/storage"
	"github.com/arashbot/gateway/internal/tenant"
)

type handler func(ctx context.Context, sess *session.Session, args []string) (string, error)

// Interpreter parses and dispatches commands. Disallowed and unknown
// commands produce user-facing replies, never errors; only infrastructure
// faults surface as errors.
type Interpreter struct {
	store    storage.MessageStore
	logger   *zap.Logger
	handlers map[string]handler

	now func() time.Time
}

func NewInterpreter(store storage.MessageStore, logger *zap.Logger) *Interpreter {
	i := &Interpreter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	i.handlers = map[string]handler{
		"start":    i.handleStart,
		"help":     i.handleHelp,
		"status":   i.handleStatus,
		"clear":    i.handleClear,
		"model":    i.handleModel,
		"models":   i.handleModels,
		"settings": i.handleSettings,
	}
	return i
}

// IsCommand reports whether the text is a command invocation.
func IsCommand(text string) bool {
	return strings.HasPrefix(text, "/") || strings.HasPrefix(text, "!")
}

// Parse splits a command invocation into a lower-cased command token and its
// arguments. Returns an empty command when there is nothing after the
// prefix.
func Parse(text string) (string, []string) {
	if !IsCommand(text) {
		return "", nil
	}

	trimmed := strings.TrimSpace(strings.TrimLeft(text, "/!"))
	parts := strings.Fields(trimmed)
	if len(parts) == 0 {
		return "", nil
	}

	return strings.ToLower(parts[0]), parts[1:]
}

// Execute runs one command for the session and returns the user-facing
// reply.
func (i *Interpreter) Execute(ctx context.Context, sess *session.Session, text string) (string, error) {
	cmd, args := Parse(text)
	if cmd == "" {
		return msgCommandUnknown, nil
	}

	cfg := sess.Config()
	if !cfg.AllowsCommand(cmd) {
		var listed []string
		for _, allowed := range cfg.Commands {
			listed = append(listed, "• /"+allowed)
		}
		return fmt.Sprintf(msgCommandNotAllowed, cmd, strings.Join(listed, "\n")), nil
	}

	h, known := i.handlers[cmd]
	if !known {
		return msgCommandUnknown, nil
	}

	reply, err := h(ctx, sess, args)
	if err != nil {
		i.logger.Error("Command execution failed",
			zap.Error(err),
			zap.String("command", cmd),
			zap.String("session_id", session.MaskID(sess.ID())))
		return "", fmt.Errorf("failed to execute /%s: %w", cmd, err)
	}
	return reply, nil
}

func (i *Interpreter) handleStart(ctx context.Context, sess *session.Session, args []string) (string, error) {
	cfg := sess.Config()
	display := tenant.DisplayModelName(sess.Model())

	if cfg.Tier == models.TierPublic {
		return fmt.Sprintf(msgWelcomePublic, display, cfg.RateLimit), nil
	}
	return fmt.Sprintf(msgWelcomePrivate, display), nil
}

func (i *Interpreter) handleHelp(ctx context.Context, sess *session.Session, args []string) (string, error) {
	cfg := sess.Config()

	var b strings.Builder
	b.WriteString("📚 Available commands:\n\n")
	for _, cmd := range cfg.Commands {
		if desc, ok := commandDescriptions[cmd]; ok {
			fmt.Fprintf(&b, "/%s - %s\n", cmd, desc)
		}
	}

	b.WriteString("\n📊 Integration info:\n")
	fmt.Fprintf(&b, "• Current model: %s\n", tenant.DisplayModelName(sess.Model()))
	fmt.Fprintf(&b, "• Available models: %d\n", len(cfg.AvailableModels))
	fmt.Fprintf(&b, "• Rate limit: %d messages/minute\n", cfg.RateLimit)
	fmt.Fprintf(&b, "• Max history: %d messages\n", cfg.MaxHistory)

	return b.String(), nil
}

func (i *Interpreter) handleStatus(ctx context.Context, sess *session.Session, args []string) (string, error) {
	cfg := sess.Config()

	tierLabel := "public"
	if cfg.Tier == models.TierPrivate {
		tierLabel = "private"
	}

	return fmt.Sprintf(
		"📊 Session status:\n\n• Platform: %s\n• Access: %s\n• Current model: %s\n"+
			"• Total messages: %d\n• Rate limit: %d/minute\n",
		sess.Platform(),
		tierLabel,
		tenant.DisplayModelName(sess.Model()),
		sess.TotalMessages(),
		cfg.RateLimit,
	), nil
}

// handleClear stamps cleared_at on all uncleared durable rows for this exact
// (platform, user, tenant) triple and empties the in-memory window. The
// lifetime counter is untouched. A store failure still clears the window;
// durable state catches up on the next /clear.
func (i *Interpreter) handleClear(ctx context.Context, sess *session.Session, args []string) (string, error) {
	if err := i.store.MarkCleared(ctx, sess.Platform(), sess.UserID(), sess.TenantID(), i.now().UTC()); err != nil {
		i.logger.Error("Failed to mark messages cleared",
			zap.Error(err),
			zap.String("session_id", session.MaskID(sess.ID())))
	}

	sess.ClearHistory()
	return msgSessionCleared, nil
}

func (i *Interpreter) handleModel(ctx context.Context, sess *session.Session, args []string) (string, error) {
	cfg := sess.Config()

	if len(args) == 0 {
		return i.listModels(sess, cfg), nil
	}

	if !cfg.AllowModelSwitch {
		return msgModelSwitchDisabled, nil
	}

	// Join so multi-word display names like "Gemini 2.0 Flash" survive.
	input := strings.Join(args, " ")

	technical := tenant.ResolveModelName(input, cfg)
	if technical == "" {
		var listed []string
		for _, m := range cfg.AvailableModels {
			listed = append(listed, "• "+tenant.DisplayModelName(m))
		}
		return fmt.Sprintf(msgModelInvalid, input) + "\n\nAvailable models:\n" + strings.Join(listed, "\n"), nil
	}

	sess.SetModel(technical)
	return fmt.Sprintf(msgModelSwitched, tenant.DisplayModelName(technical)), nil
}

func (i *Interpreter) handleModels(ctx context.Context, sess *session.Session, args []string) (string, error) {
	return i.listModels(sess, sess.Config()), nil
}

func (i *Interpreter) listModels(sess *session.Session, cfg tenant.Config) string {
	current := tenant.DisplayModelName(sess.Model())

	var b strings.Builder
	fmt.Fprintf(&b, "Current model: %s\n\nAvailable models:\n", current)
	for _, m := range cfg.AvailableModels {
		display := tenant.DisplayModelName(m)
		if display == current {
			fmt.Fprintf(&b, "• %s ← current\n", display)
		} else {
			fmt.Fprintf(&b, "• %s\n", display)
		}
	}

	if cfg.AllowModelSwitch {
		b.WriteString("\n💡 Switch with /model <name>")
	}
	return b.String()
}

func (i *Interpreter) handleSettings(ctx context.Context, sess *session.Session, args []string) (string, error) {
	cfg := sess.Config()
	if cfg.Tier != models.TierPrivate {
		return msgPrivateOnly, nil
	}

	return fmt.Sprintf(
		"⚙️ Settings:\n\n• User id: %s\n• Platform: %s\n• Default model: %s\n",
		sess.UserID(),
		sess.Platform(),
		tenant.DisplayModelName(sess.Model()),
	), nil
}
