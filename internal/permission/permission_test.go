package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowed(t *testing.T) {
	cashier := CashierDefaults()

	tests := []struct {
		name   string
		role   string
		matrix Matrix
		module Module
		action Action
		want   bool
	}{
		{"super admin bypasses empty matrix", SuperAdminRole, nil, ModuleSettings, ActionEdit, true},
		{"super admin bypasses unknown action", SuperAdminRole, Matrix{}, ModuleSales, ActionVoid, true},
		{"granted flag", CashierRole, cashier, ModulePOS, ActionAccess, true},
		{"missing action denied", CashierRole, cashier, ModulePOS, ActionVoid, false},
		{"missing module denied", CashierRole, cashier, ModuleSettings, ActionView, false},
		{"explicit false denied", "Clerk", Matrix{ModuleStock: {ActionAdjust: false}}, ModuleStock, ActionAdjust, false},
		{"nil matrix denied", "Clerk", nil, ModuleDashboard, ActionView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.role, tt.matrix, tt.module, tt.action))
		})
	}
}

func TestDecodeValidatesShape(t *testing.T) {
	m, err := Decode([]byte(`{"pos":{"access":true},"sales":{"void":false}}`))
	require.NoError(t, err)
	assert.True(t, m.Can(ModulePOS, ActionAccess))
	assert.False(t, m.Can(ModuleSales, ActionVoid))

	_, err = Decode([]byte(`{"warehouse":{"view":true}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMatrix))

	_, err = Decode([]byte(`{"pos":{"teleport":true}}`))
	assert.True(t, errors.Is(err, ErrInvalidMatrix))

	_, err = Decode([]byte(`{"pos":`))
	assert.True(t, errors.Is(err, ErrInvalidMatrix))
}

func TestDecodeEmptyIsDenyAll(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("null"), []byte("{}")} {
		m, err := Decode(raw)
		require.NoError(t, err)
		assert.False(t, m.Can(ModuleDashboard, ActionView))
	}
}

func TestEncodeRoundTripKeepsFlags(t *testing.T) {
	raw, err := Full().Encode()
	require.NoError(t, err)

	m, err := Decode(raw)
	require.NoError(t, err)
	for module, actions := range Schema {
		for _, action := range actions {
			assert.True(t, m.Can(module, action), "%s.%s", module, action)
		}
	}

	_, err = Matrix{"nope": {ActionView: true}}.Encode()
	assert.Error(t, err)
}

func TestExpandFillsEverySchemaEntry(t *testing.T) {
	expanded := CashierDefaults().Expand()
	assert.Len(t, expanded, 10)
	assert.Len(t, Modules(), 10)

	flag, present := expanded[ModuleSettings][ActionEdit]
	assert.True(t, present)
	assert.False(t, flag)
	assert.True(t, expanded[ModulePOS][ActionAccess])
}

func TestCloneIsIndependent(t *testing.T) {
	original := CashierDefaults()
	clone := original.Clone()
	clone[ModulePOS][ActionVoid] = true

	assert.False(t, original.Can(ModulePOS, ActionVoid))
}
