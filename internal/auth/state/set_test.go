package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_JSONIsSortedAndCollapsesDuplicates(t *testing.T) {
	s := NewSet("ORDERS_VIEW", "CUSTOMERS_EDIT", "ORDERS_VIEW", " ")

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `["CUSTOMERS_EDIT","ORDERS_VIEW"]`, string(raw))

	var back Set
	require.NoError(t, json.Unmarshal([]byte(`["B","A","B"]`), &back))
	assert.True(t, back.Equal(NewSet("A", "B")))
	assert.Equal(t, 2, back.Len())
}

func TestSet_ZeroValueIsEmpty(t *testing.T) {
	var s Set
	assert.False(t, s.Has("A"))
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Equal(NewSet()))
}
