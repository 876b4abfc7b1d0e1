package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/boddenberg/lending-bfa-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoBorrower_KeepsUnknownKeys(t *testing.T) {
	var cb domain.CoBorrower
	require.NoError(t, json.Unmarshal([]byte(`{"borrower_id":"bc1","relationship":"spouse"}`), &cb))

	assert.Equal(t, "bc1", cb.BorrowerID)
	assert.Equal(t, map[string]any{"relationship": "spouse"}, cb.Extra)

	cb.UserID = "u-jane"
	out, err := json.Marshal(cb)
	require.NoError(t, err)
	assert.JSONEq(t, `{"borrower_id":"bc1","user_id":"u-jane","relationship":"spouse"}`, string(out))
}

func TestCoBorrower_NonStringIdentityKeysSurviveRewrite(t *testing.T) {
	var cb domain.CoBorrower
	require.NoError(t, json.Unmarshal([]byte(`{"borrower_id":42,"email":null,"relationship":"legacy"}`), &cb))

	assert.Empty(t, cb.BorrowerID)
	assert.Empty(t, cb.Email)
	assert.Equal(t, float64(42), cb.Extra["borrower_id"])

	out, err := json.Marshal(cb)
	require.NoError(t, err)
	assert.JSONEq(t, `{"borrower_id":42,"email":null,"relationship":"legacy"}`, string(out))
}

func TestCoBorrower_NoExtraWhenFullyModelled(t *testing.T) {
	var cb domain.CoBorrower
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u1","email":"a@b.c"}`), &cb))

	assert.Nil(t, cb.Extra)
	assert.Equal(t, "u1", cb.UserID)
	assert.Equal(t, "a@b.c", cb.Email)
}
