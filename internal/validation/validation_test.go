package validation

import (
	"errors"
	"testing"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string `validate:"required"`
	Period int    `validate:"gte=1,lte=12"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(sample{Name: "x", Period: 3}))

	err := Struct(sample{Period: 13})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.Contains(t, err.Error(), "Name=required")
	assert.Contains(t, err.Error(), "Period=lte")
}
