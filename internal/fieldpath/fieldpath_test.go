package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() map[string]any {
	return map[string]any{
		"total_amount": 120.0,
		"tables": []any{
			map[string]any{
				"rows": []any{
					map[string]any{"amount": 10.0},
					map[string]any{"amount": 20.0},
				},
			},
		},
		"parties": map[string]any{
			"payer": "Acme Ltd",
		},
	}
}

func TestGet(t *testing.T) {
	m := sample()

	v, ok := Get(m, "total_amount")
	require.True(t, ok)
	assert.Equal(t, 120.0, v)

	v, ok = Get(m, "tables.0.rows.1.amount")
	require.True(t, ok)
	assert.Equal(t, 20.0, v)

	v, ok = Get(m, "parties.payer")
	require.True(t, ok)
	assert.Equal(t, "Acme Ltd", v)

	_, ok = Get(m, "missing")
	assert.False(t, ok)

	_, ok = Get(m, "tables.9.rows")
	assert.False(t, ok)

	_, ok = Get(m, "total_amount.nested")
	assert.False(t, ok)

	_, ok = Get(nil, "x")
	assert.False(t, ok)
}

func TestSetScalar(t *testing.T) {
	m := sample()
	require.NoError(t, Set(m, "total_amount", 130.0))
	v, _ := Get(m, "total_amount")
	assert.Equal(t, 130.0, v)
}

func TestSetNestedListElement(t *testing.T) {
	m := sample()
	require.NoError(t, Set(m, "tables.0.rows.1.amount", 25.0))
	v, _ := Get(m, "tables.0.rows.1.amount")
	assert.Equal(t, 25.0, v)
}

func TestSetCreatesIntermediateMaps(t *testing.T) {
	m := map[string]any{}
	require.NoError(t, Set(m, "issuer.address.city", "London"))
	v, ok := Get(m, "issuer.address.city")
	require.True(t, ok)
	assert.Equal(t, "London", v)
}

func TestSetConflictFailsLoudly(t *testing.T) {
	m := sample()

	err := Set(m, "total_amount.sub", 1.0)
	assert.ErrorIs(t, err, ErrPathConflict)

	err = Set(m, "tables.bad.rows", 1.0)
	assert.ErrorIs(t, err, ErrPathConflict)

	err = Set(m, "tables.7", 1.0)
	assert.ErrorIs(t, err, ErrPathConflict)
}

func TestLeaf(t *testing.T) {
	assert.Equal(t, "amount", Leaf("tables.0.rows.1.amount"))
	assert.Equal(t, "gross_pay", Leaf("gross_pay"))
}
