package tenant

import (
	"strings"

	"github.com/arashbot/gateway/internal/models"
)

// Config is the effective configuration a request runs under: tier defaults
// with per-tenant overrides already applied.
type Config struct {
	Tier             models.AccessTier
	Model            string // technical identifier
	AvailableModels  []string
	RateLimit        int // requests per minute
	MaxHistory       int // turns kept in the context window per role
	Commands         []string
	AllowModelSwitch bool
	RequiresAuth     bool
	DailyQuota       *int
	MonthlyQuota     *int
}

func (c Config) Clone() Config {
	copied := c
	copied.AvailableModels = append([]string(nil), c.AvailableModels...)
	copied.Commands = append([]string(nil), c.Commands...)
	return copied
}

// HasModel reports whether the technical id is in the available set.
func (c Config) HasModel(technical string) bool {
	for _, m := range c.AvailableModels {
		if m == technical {
			return true
		}
	}
	return false
}

// AllowsCommand reports whether the command is on the allow-list.
func (c Config) AllowsCommand(command string) bool {
	for _, cmd := range c.Commands {
		if cmd == command {
			return true
		}
	}
	return false
}

// Merge applies a tenant's overrides on top of its tier defaults. Pure: an
// override wins only when set, otherwise the default stands.
func Merge(base Config, t *models.Tenant) Config {
	cfg := base.Clone()

	if t.RateLimit != nil {
		cfg.RateLimit = *t.RateLimit
	}
	if t.MaxHistory != nil {
		cfg.MaxHistory = *t.MaxHistory
	}
	if t.DefaultModel != nil {
		cfg.Model = *t.DefaultModel
	}
	if t.AvailableModels != nil {
		if parsed := SplitCSV(*t.AvailableModels); len(parsed) > 0 {
			cfg.AvailableModels = parsed
		}
	}
	if t.AllowModelSwitch != nil {
		cfg.AllowModelSwitch = *t.AllowModelSwitch
	}
	if t.DailyQuota != nil {
		cfg.DailyQuota = t.DailyQuota
	}
	if t.MonthlyQuota != nil {
		cfg.MonthlyQuota = t.MonthlyQuota
	}

	return cfg
}

// SplitCSV parses a comma-separated list, dropping empty entries.
func SplitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
