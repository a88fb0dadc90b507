package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arashbot/gateway/internal/models"
)

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func publicBase() Config {
	return Config{
		Tier:             models.TierPublic,
		Model:            "google/gemini-2.0-flash-001",
		AvailableModels:  []string{"google/gemini-2.0-flash-001", "google/gemini-2.5-flash"},
		RateLimit:        20,
		MaxHistory:       10,
		Commands:         []string{"start", "help", "clear"},
		AllowModelSwitch: true,
	}
}

func TestMergeNoOverridesKeepsDefaults(t *testing.T) {
	base := publicBase()
	merged := Merge(base, &models.Tenant{AccessTier: models.TierPublic, IsActive: true})

	assert.Equal(t, base.Model, merged.Model)
	assert.Equal(t, base.RateLimit, merged.RateLimit)
	assert.Equal(t, base.MaxHistory, merged.MaxHistory)
	assert.Equal(t, base.AvailableModels, merged.AvailableModels)
	assert.True(t, merged.AllowModelSwitch)
	assert.Nil(t, merged.DailyQuota)
}

func TestMergeOverridesWin(t *testing.T) {
	merged := Merge(publicBase(), &models.Tenant{
		RateLimit:        intPtr(5),
		MaxHistory:       intPtr(3),
		DefaultModel:     strPtr("openai/gpt-4o-mini"),
		AvailableModels:  strPtr("openai/gpt-4o-mini, google/gemini-2.5-flash"),
		AllowModelSwitch: boolPtr(false),
		DailyQuota:       intPtr(100),
		MonthlyQuota:     intPtr(1000),
	})

	assert.Equal(t, 5, merged.RateLimit)
	assert.Equal(t, 3, merged.MaxHistory)
	assert.Equal(t, "openai/gpt-4o-mini", merged.Model)
	assert.Equal(t, []string{"openai/gpt-4o-mini", "google/gemini-2.5-flash"}, merged.AvailableModels)
	assert.False(t, merged.AllowModelSwitch)
	assert.Equal(t, 100, *merged.DailyQuota)
	assert.Equal(t, 1000, *merged.MonthlyQuota)
}

func TestMergeEmptyModelCSVKeepsDefaults(t *testing.T) {
	merged := Merge(publicBase(), &models.Tenant{AvailableModels: strPtr(" , ,")})
	assert.Equal(t, publicBase().AvailableModels, merged.AvailableModels)
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	base := publicBase()
	merged := Merge(base, &models.Tenant{AvailableModels: strPtr("openai/o1")})

	assert.Equal(t, []string{"openai/o1"}, merged.AvailableModels)
	assert.Equal(t, publicBase().AvailableModels, base.AvailableModels)
}

func TestAllowsCommand(t *testing.T) {
	cfg := publicBase()
	assert.True(t, cfg.AllowsCommand("clear"))
	assert.False(t, cfg.AllowsCommand("settings"))
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitCSV("a, b ,c"))
	assert.Nil(t, SplitCSV(""))
	assert.Nil(t, SplitCSV(" , "))
}
