package spreadsheet

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
)

func sampleProducts() []domain.Product {
	return []domain.Product{{
		Name:          "Kopi Susu",
		SKU:           "KS-01",
		CategoryName:  "Drinks",
		UnitSymbol:    "pcs",
		PurchasePrice: decimal.RequireFromString("7000"),
		SellingPrice:  decimal.RequireFromString("12500.5"),
		Stock:         decimal.RequireFromString("24"),
		MinStock:      decimal.RequireFromString("5"),
	}}
}

func TestExportHeaderIsFrozenAndMarked(t *testing.T) {
	f, err := ExportProducts(sampleProducts())
	require.NoError(t, err)
	defer f.Close()

	name, err := f.GetCellValue(SheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Name *", name)

	sku, _ := f.GetCellValue(SheetName, "B1")
	assert.Equal(t, "SKU", sku)

	requiredStyle, _ := f.GetCellStyle(SheetName, "A1")
	optionalStyle, _ := f.GetCellStyle(SheetName, "B1")
	assert.NotEqual(t, requiredStyle, optionalStyle)

	panes, err := f.GetPanes(SheetName)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 1, panes.YSplit)
	assert.Equal(t, "A2", panes.TopLeftCell)
}

func TestReadRowsKeysByHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteProducts(&buf, sampleProducts()))

	rows, err := ReadRows(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, "Kopi Susu", rows[0].Values[ColName])
	assert.Equal(t, "Drinks", rows[0].Values[ColCategory])

	rec, err := ParseProduct(rows[0])
	require.NoError(t, err)
	assert.True(t, rec.SellingPrice.Equal(decimal.RequireFromString("12500.5")))
	assert.True(t, rec.Stock.Equal(decimal.NewFromInt(24)))
}

func TestReadRowsHandlesReorderedColumnsAndBlanks(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Selling Price *", "Category*", "Name"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"1500", "Snack", "Keripik"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]any{"", "Snack", ""}))

	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	rows, err := ReadRows(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Keripik", rows[0].Values[ColName])
	assert.Equal(t, 4, rows[1].Number)

	_, err = ParseProduct(rows[1])
	assert.ErrorContains(t, err, "Name is required")
}

func TestParseProductRejectsBadNumbers(t *testing.T) {
	_, err := ParseProduct(Row{Values: map[string]string{
		ColName: "Teh", ColCategory: "Drinks", ColSellingPrice: "abc",
	}})
	assert.ErrorContains(t, err, "Selling Price")

	_, err = ParseProduct(Row{Values: map[string]string{
		ColName: "Teh", ColCategory: "Drinks", ColSellingPrice: "1000", ColStock: "-2",
	}})
	assert.ErrorContains(t, err, "Stock cannot be negative")
}
