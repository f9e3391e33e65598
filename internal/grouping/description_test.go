package grouping

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/logger"
)

func createTestMovement(id string, day int, description string) *models.Record {
	return models.NewMovement("O1", "", id, decimal.NewFromInt(500), baseDate.AddDate(0, 0, day), description)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("TRANSF ACME LTDA", "transf  acme ltda"))
	assert.InDelta(t, 1-1.0/16, Similarity("TRANSF ACME LTDA", "TRANSF ACME LTDB"), 1e-9)
	assert.Less(t, Similarity("TRANSF ACME", "DEPOSITO CHEQUE"), 0.5)
	assert.Equal(t, 1.0, Similarity("", ""))
}

func TestSimilarityOnShortReferences(t *testing.T) {
	// One differing character passes 0.9 only on descriptions of ten runes or more
	assert.GreaterOrEqual(t, Similarity("TRANSF ACME 0001", "TRANSF ACME 0002"), 0.9)
	assert.InDelta(t, 0.9, Similarity("PAGO 00012", "PAGO 00013"), 1e-9)
	assert.Less(t, Similarity("PAGO 12", "PAGO 13"), 0.9)
}

func TestDescriptionGrouperBuild(t *testing.T) {
	movements := []*models.Record{
		createTestMovement("M1", 0, "TRANSF DE ACME LTDA"),
		createTestMovement("M2", 3, "TRANSF DE ACME LTDA"),
		createTestMovement("M3", 5, "DEPOSITO EFECTIVO"),
		createTestMovement("M4", 10, "TRANSF DE ACME LTDA."),
		createTestMovement("M5", 30, "TRANSF DE ACME LTDA"),
	}

	grouper := NewDescriptionGrouper(0.9, 14, 3)
	grouper.logger = logger.NewNopLogger()

	groups, err := grouper.Build(movements)
	require.NoError(t, err)

	got := make(map[string]bool)
	for _, g := range groups {
		ids := g.MemberIDs()
		got[fmt.Sprintf("%s+%s/%d", ids[0], ids[len(ids)-1], g.Len())] = true
		assert.LessOrEqual(t, g.Span(), 14)
		assert.NotContains(t, g.MemberIDs(), "M3")
		assert.NotContains(t, g.MemberIDs(), "M5")
	}

	assert.True(t, got["M1+M2/2"])
	assert.True(t, got["M1+M4/2"])
	assert.True(t, got["M1+M4/3"])
	assert.True(t, got["M2+M4/2"])
	assert.Len(t, groups, 4)
}

func TestDescriptionGrouperValidate(t *testing.T) {
	assert.Error(t, NewDescriptionGrouper(1.5, 14, 3).Validate())
	assert.Error(t, NewDescriptionGrouper(0.9, -1, 3).Validate())
	assert.Error(t, NewDescriptionGrouper(0.9, 14, 1).Validate())
	assert.NoError(t, NewDescriptionGrouper(0.9, 14, 4).Validate())
}
