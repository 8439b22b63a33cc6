// Package spreadsheet exports the product catalog and sales to .xlsx and
// reads the catalog back. Import is keyed by header text, so users may
// reorder or drop optional columns.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
)

const (
	SheetName      = "Products"
	requiredMarker = " *"
)

type Column struct {
	Header   string
	Required bool
	Width    float64
}

const (
	ColName          = "Name"
	ColSKU           = "SKU"
	ColBarcode       = "Barcode"
	ColCategory      = "Category"
	ColUnit          = "Unit"
	ColPurchasePrice = "Purchase Price"
	ColSellingPrice  = "Selling Price"
	ColStock         = "Stock"
	ColMinStock      = "Min Stock"
)

var ProductColumns = []Column{
	{Header: ColName, Required: true, Width: 32},
	{Header: ColSKU, Width: 16},
	{Header: ColBarcode, Width: 18},
	{Header: ColCategory, Required: true, Width: 20},
	{Header: ColUnit, Width: 10},
	{Header: ColPurchasePrice, Width: 16},
	{Header: ColSellingPrice, Required: true, Width: 16},
	{Header: ColStock, Width: 12},
	{Header: ColMinStock, Width: 12},
}

var ErrEmptySheet = errors.New("spreadsheet has no header row")

func (c Column) label() string {
	if c.Required {
		return c.Header + requiredMarker
	}
	return c.Header
}

// ExportProducts builds a workbook with a frozen, styled header. Required
// columns get their own header style and a trailing "*".
func ExportProducts(products []domain.Product) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := writeHeader(f, SheetName, ProductColumns); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i, p := range products {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			p.Name,
			p.SKU,
			p.Barcode,
			p.CategoryName,
			p.UnitSymbol,
			p.PurchasePrice.InexactFloat64(),
			p.SellingPrice.InexactFloat64(),
			p.Stock.InexactFloat64(),
			p.MinStock.InexactFloat64(),
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

func WriteProducts(w io.Writer, products []domain.Product) error {
	f, err := ExportProducts(products)
	if err != nil {
		return err
	}
	return writeAndClose(w, f)
}

// writeHeader styles row 1 of sheet from columns and freezes it.
func writeHeader(f *excelize.File, sheet string, columns []Column) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F4E78"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	requiredStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"C00000"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		name, _ := excelize.ColumnNumberToName(i + 1)
		style := headerStyle
		if col.Required {
			style = requiredStyle
		}
		if err := f.SetCellValue(sheet, cell, col.label()); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, col.Width); err != nil {
			return err
		}
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeAndClose(w io.Writer, f *excelize.File) error {
	defer func() { _ = f.Close() }()
	_, err := f.WriteTo(w)
	return err
}

// Row is one data row keyed by header text. Number is the 1-based sheet row.
type Row struct {
	Number int
	Values map[string]string
}

// ReadRows reads the first sheet. Blank rows are skipped.
func ReadRows(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptySheet
	}

	headers := make([]string, len(raw[0]))
	for i, h := range raw[0] {
		headers[i] = normalizeHeader(h)
	}

	rows := make([]Row, 0, len(raw)-1)
	for i, cells := range raw[1:] {
		values := make(map[string]string, len(headers))
		blank := true
		for j, cell := range cells {
			if j >= len(headers) || headers[j] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell != "" {
				blank = false
			}
			values[headers[j]] = cell
		}
		if blank {
			continue
		}
		rows = append(rows, Row{Number: i + 2, Values: values})
	}
	return rows, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimSuffix(h, "*")
	return strings.TrimSpace(h)
}

// ProductRecord is a parsed import row. Category and Unit hold names as typed
// by the user; the caller resolves them.
type ProductRecord struct {
	Name          string
	SKU           string
	Barcode       string
	Category      string
	Unit          string
	PurchasePrice decimal.Decimal
	SellingPrice  decimal.Decimal
	Stock         decimal.Decimal
	MinStock      decimal.Decimal
}

func ParseProduct(row Row) (ProductRecord, error) {
	v := row.Values
	rec := ProductRecord{
		Name:     v[ColName],
		SKU:      v[ColSKU],
		Barcode:  v[ColBarcode],
		Category: v[ColCategory],
		Unit:     v[ColUnit],
	}
	for _, col := range ProductColumns {
		if col.Required && v[col.Header] == "" {
			return rec, fmt.Errorf("%s is required", col.Header)
		}
	}

	var err error
	if rec.SellingPrice, err = parseDecimal(v, ColSellingPrice); err != nil {
		return rec, err
	}
	if rec.PurchasePrice, err = parseDecimal(v, ColPurchasePrice); err != nil {
		return rec, err
	}
	if rec.Stock, err = parseDecimal(v, ColStock); err != nil {
		return rec, err
	}
	if rec.MinStock, err = parseDecimal(v, ColMinStock); err != nil {
		return rec, err
	}
	return rec, nil
}

func parseDecimal(values map[string]string, header string) (decimal.Decimal, error) {
	raw := strings.ReplaceAll(values[header], ",", "")
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a number", header, values[header])
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s cannot be negative", header)
	}
	return d, nil
}
