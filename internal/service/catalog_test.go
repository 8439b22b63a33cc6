package service

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
)

func workbookOf(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	x := excelize.NewFile()
	defer func() { _ = x.Close() }()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := x.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := x.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf
}

func TestImportWithoutEditCannotOverwriteExistingProducts(t *testing.T) {
	f := newFixture(t)
	existing := f.product(t, "SUG-1", "15000", "4")

	creator := f.userWithRole(t, "creator", permission.Matrix{
		permission.ModuleProducts: {permission.ActionView: true, permission.ActionCreate: true},
	})

	result, err := f.svc.ImportProducts(creator, workbookOf(t, [][]any{
		{"Name *", "SKU", "Category *", "Selling Price *", "Stock"},
		{"Sugar", "SUG-1", "General", "1", ""},
		{"Salt", "SALT-1", "General", "3000", "2"},
	}))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Created != 1 || result.Updated != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected one create and one refused row, got %+v", result)
	}
	if result.Errors[0].Row != 2 || !strings.Contains(result.Errors[0].Message, "SUG-1") {
		t.Fatalf("expected row 2 to name the SKU, got %+v", result.Errors[0])
	}

	after, err := f.svc.GetProduct(f.admin, existing.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !after.SellingPrice.Equal(dec("15000")) || after.Name != existing.Name {
		t.Fatalf("create-only import changed an existing product: %+v", after)
	}

	// The same workbook updates once edit is granted.
	editor := f.userWithRole(t, "editor", permission.Matrix{
		permission.ModuleProducts: {permission.ActionView: true, permission.ActionCreate: true, permission.ActionEdit: true},
	})
	result, err = f.svc.ImportProducts(editor, workbookOf(t, [][]any{
		{"Name *", "SKU", "Category *", "Selling Price *"},
		{"Sugar", "SUG-1", "General", "1"},
	}))
	if err != nil {
		t.Fatalf("import with edit: %v", err)
	}
	if result.Updated != 1 || len(result.Errors) != 0 {
		t.Fatalf("expected one update, got %+v", result)
	}
	if after, _ := f.svc.GetProduct(f.admin, existing.ID); !after.SellingPrice.Equal(dec("1")) {
		t.Fatalf("expected price 1 after permitted update, got %s", after.SellingPrice)
	}
}

func TestImportNeedsCreate(t *testing.T) {
	f := newFixture(t)
	editor := f.userWithRole(t, "editonly", permission.Matrix{
		permission.ModuleProducts: {permission.ActionView: true, permission.ActionEdit: true},
	})

	_, err := f.svc.ImportProducts(editor, workbookOf(t, [][]any{
		{"Name *", "Category *", "Selling Price *"},
		{"Tea", "General", "2000"},
	}))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	found, _ := f.svc.ListProducts(f.admin, domain.ProductFilter{Search: "Tea"})
	if len(found) != 0 {
		t.Fatalf("forbidden import must create nothing, got %d", len(found))
	}
}
