package spreadsheet

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
)

func sampleSales() []domain.Sale {
	return []domain.Sale{{
		SaleNumber:     "S20260302-000001",
		Status:         domain.SaleCompleted,
		PaymentMethod:  domain.PaymentCash,
		CustomerName:   "Walk-in",
		CashierName:    "Owner",
		Total:          decimal.RequireFromString("10000"),
		RefundedAmount: decimal.RequireFromString("9000"),
		CreatedAt:      time.Date(2026, 3, 2, 20, 30, 0, 0, time.UTC),
	}}
}

func TestExportSalesRendersNetAndLocalTime(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	f, err := ExportSales(sampleSales(), jakarta)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SalesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Sale Number", rows[0][0])
	assert.Equal(t, "S20260302-000001", rows[1][0])
	assert.Equal(t, "2026-03-03 03:30", rows[1][1])
	assert.Equal(t, "10000", rows[1][6])
	assert.Equal(t, "9000", rows[1][7])
	assert.Equal(t, "1000", rows[1][8])

	panes, err := f.GetPanes(SalesSheet)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
}

func TestSalesReportWorkbookHasSummaryAndSales(t *testing.T) {
	report := domain.SalesReport{
		From:    "2026-03-02",
		To:      "2026-03-02",
		Sales:   1,
		Refunds: decimal.RequireFromString("9000"),
		Total:   decimal.RequireFromString("1000"),
		ByPayment: []domain.PaymentBreakdown{
			{PaymentMethod: domain.PaymentCash, Sales: 1, Total: decimal.RequireFromString("1000")},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSalesReport(&buf, report, sampleSales(), time.UTC))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SummarySheet, SalesSheet}, f.GetSheetList())

	refunds, _ := f.GetCellValue(SummarySheet, "B7")
	total, _ := f.GetCellValue(SummarySheet, "B8")
	assert.Equal(t, "9000", refunds)
	assert.Equal(t, "1000", total)

	method, _ := f.GetCellValue(SummarySheet, "A14")
	methodTotal, _ := f.GetCellValue(SummarySheet, "C14")
	assert.Equal(t, string(domain.PaymentCash), method)
	assert.Equal(t, "1000", methodTotal)

	rows, err := f.GetRows(SalesSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
