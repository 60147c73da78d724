package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestShortLink_IsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&ShortLink{}).IsExpired(now), "без срока жизни ссылка не истекает")
	assert.True(t, (&ShortLink{ExpirationDate: &past}).IsExpired(now))
	assert.False(t, (&ShortLink{ExpirationDate: &future}).IsExpired(now))
	assert.False(t, (&ShortLink{ExpirationDate: &now}).IsExpired(now), "граница не считается истёкшей")
}

func TestShortLink_ResolvedAlias(t *testing.T) {
	assert.Equal(t, "", (&ShortLink{}).ResolvedAlias())
	assert.Equal(t, "Aa5", (&ShortLink{ShortKey: strPtr("Aa5")}).ResolvedAlias())
	assert.Equal(t, "promo", (&ShortLink{CustomKey: strPtr("promo")}).ResolvedAlias())
	assert.Equal(t, "promo", (&ShortLink{ShortKey: strPtr("Aa5"), CustomKey: strPtr("promo")}).ResolvedAlias())
}

func TestShortLink_Aliases(t *testing.T) {
	assert.Empty(t, (&ShortLink{}).Aliases())
	assert.Equal(t, []string{"promo", "Aa5"},
		(&ShortLink{ShortKey: strPtr("Aa5"), CustomKey: strPtr("promo")}).Aliases())
}
