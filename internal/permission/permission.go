// Package permission holds the typed role permission matrix and the
// capability check used by every protected operation.
package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

type Module string

type Action string

const (
	ModuleDashboard  Module = "dashboard"
	ModulePOS        Module = "pos"
	ModuleProducts   Module = "products"
	ModuleCategories Module = "categories"
	ModulePurchases  Module = "purchases"
	ModuleSales      Module = "sales"
	ModuleStock      Module = "stock"
	ModuleCustomers  Module = "customers"
	ModuleReports    Module = "reports"
	ModuleSettings   Module = "settings"
)

const (
	ActionView     Action = "view"
	ActionCreate   Action = "create"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
	ActionAccess   Action = "access"
	ActionDiscount Action = "discount"
	ActionVoid     Action = "void"
	ActionRefund   Action = "refund"
	ActionAdjust   Action = "adjust"
	ActionExport   Action = "export"
)

const (
	SuperAdminRole = "Super Admin"
	CashierRole    = "Cashier"
)

var ErrInvalidMatrix = errors.New("invalid permission matrix")

// Schema lists the actions each module understands.
var Schema = map[Module][]Action{
	ModuleDashboard:  {ActionView},
	ModulePOS:        {ActionAccess, ActionDiscount, ActionVoid, ActionRefund},
	ModuleProducts:   {ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport},
	ModuleCategories: {ActionView, ActionCreate, ActionEdit, ActionDelete},
	ModulePurchases:  {ActionView, ActionCreate, ActionEdit, ActionDelete},
	ModuleSales:      {ActionView, ActionVoid, ActionRefund, ActionExport},
	ModuleStock:      {ActionView, ActionAdjust},
	ModuleCustomers:  {ActionView, ActionCreate, ActionEdit, ActionDelete},
	ModuleReports:    {ActionView, ActionExport},
	ModuleSettings:   {ActionView, ActionEdit},
}

// Matrix maps a module to its action flags. Missing entries mean denied.
type Matrix map[Module]map[Action]bool

// Modules returns the schema modules in a stable order.
func Modules() []Module {
	modules := make([]Module, 0, len(Schema))
	for module := range Schema {
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i] < modules[j] })
	return modules
}

func knownAction(module Module, action Action) bool {
	for _, candidate := range Schema[module] {
		if candidate == action {
			return true
		}
	}
	return false
}

// Validate rejects modules or actions that are not part of the schema.
func (m Matrix) Validate() error {
	for module, actions := range m {
		if _, ok := Schema[module]; !ok {
			return fmt.Errorf("%w: unknown module %q", ErrInvalidMatrix, module)
		}
		for action := range actions {
			if !knownAction(module, action) {
				return fmt.Errorf("%w: unknown action %q for module %q", ErrInvalidMatrix, action, module)
			}
		}
	}
	return nil
}

func (m Matrix) Can(module Module, action Action) bool {
	if m == nil {
		return false
	}
	return m[module][action]
}

// Expand returns a copy where every schema entry is present, false when unset.
func (m Matrix) Expand() Matrix {
	out := make(Matrix, len(Schema))
	for module, actions := range Schema {
		flags := make(map[Action]bool, len(actions))
		for _, action := range actions {
			flags[action] = m.Can(module, action)
		}
		out[module] = flags
	}
	return out
}

func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for module, actions := range m {
		flags := make(map[Action]bool, len(actions))
		for action, allowed := range actions {
			flags[action] = allowed
		}
		out[module] = flags
	}
	return out
}

// Encode validates the matrix before serializing it for storage.
func (m Matrix) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Decode parses a stored matrix and checks its shape. Stored data is never
// trusted to have been validated on write.
func Decode(raw []byte) (Matrix, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Matrix{}, nil
	}
	var m Matrix
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = Matrix{}
	}
	return m, nil
}

// Allowed answers whether a role may perform action on module.
func Allowed(roleName string, m Matrix, module Module, action Action) bool {
	if roleName == SuperAdminRole {
		return true
	}
	return m.Can(module, action)
}

// Full grants every action in the schema.
func Full() Matrix {
	out := make(Matrix, len(Schema))
	for module, actions := range Schema {
		flags := make(map[Action]bool, len(actions))
		for _, action := range actions {
			flags[action] = true
		}
		out[module] = flags
	}
	return out
}

// CashierDefaults is the seeded matrix for the built-in cashier role.
func CashierDefaults() Matrix {
	return Matrix{
		ModuleDashboard:  {ActionView: true},
		ModulePOS:        {ActionAccess: true},
		ModuleProducts:   {ActionView: true},
		ModuleCategories: {ActionView: true},
		ModuleSales:      {ActionView: true},
		ModuleStock:      {ActionView: true},
		ModuleCustomers:  {ActionView: true, ActionCreate: true},
	}
}
