package spreadsheet

import (
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
)

const (
	SalesSheet   = "Sales"
	SummarySheet = "Summary"
)

var SaleColumns = []Column{
	{Header: "Sale Number", Width: 20},
	{Header: "Date", Width: 18},
	{Header: "Status", Width: 12},
	{Header: "Payment", Width: 12},
	{Header: "Customer", Width: 24},
	{Header: "Cashier", Width: 20},
	{Header: "Total", Width: 14},
	{Header: "Refunded", Width: 14},
	{Header: "Net", Width: 14},
}

var paymentHeaders = []string{"Payment Method", "Sales", "Total"}

// ExportSales lists sales one per row, newest first as given. Dates are
// rendered in loc.
func ExportSales(sales []domain.Sale, loc *time.Location) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SalesSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := fillSales(f, sales, loc); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// ExportSalesReport puts the report totals and the payment breakdown on a
// Summary sheet, followed by a Sales sheet with the rows behind them.
func ExportSalesReport(report domain.SalesReport, sales []domain.Sale, loc *time.Location) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(SalesSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := fillSummary(f, report); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := fillSales(f, sales, loc); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func WriteSales(w io.Writer, sales []domain.Sale, loc *time.Location) error {
	f, err := ExportSales(sales, loc)
	if err != nil {
		return err
	}
	return writeAndClose(w, f)
}

func WriteSalesReport(w io.Writer, report domain.SalesReport, sales []domain.Sale, loc *time.Location) error {
	f, err := ExportSalesReport(report, sales, loc)
	if err != nil {
		return err
	}
	return writeAndClose(w, f)
}

func fillSales(f *excelize.File, sales []domain.Sale, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	if err := writeHeader(f, SalesSheet, SaleColumns); err != nil {
		return err
	}
	for i, sale := range sales {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			sale.SaleNumber,
			sale.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			string(sale.Status),
			string(sale.PaymentMethod),
			sale.CustomerName,
			sale.CashierName,
			sale.Total.InexactFloat64(),
			sale.RefundedAmount.InexactFloat64(),
			sale.NetTotal().InexactFloat64(),
		}
		if err := f.SetSheetRow(SalesSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func fillSummary(f *excelize.File, report domain.SalesReport) error {
	labelStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(SummarySheet, "B", "C", 16); err != nil {
		return err
	}

	lines := [][]any{
		{"From", report.From},
		{"To", report.To},
		{"Sales", report.Sales},
		{"Subtotal", report.Subtotal.InexactFloat64()},
		{"Discount", report.Discount.InexactFloat64()},
		{"Tax", report.Tax.InexactFloat64()},
		{"Refunds", report.Refunds.InexactFloat64()},
		{"Total", report.Total.InexactFloat64()},
		{"Outstanding Credit", report.Outstanding.InexactFloat64()},
		{"Voided Sales", report.VoidedSales},
		{"Returned Sales", report.ReturnedSales},
	}
	for i, line := range lines {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &line); err != nil {
			return err
		}
		if err := f.SetCellStyle(SummarySheet, cell, cell, labelStyle); err != nil {
			return err
		}
	}

	// One blank row, then the breakdown table.
	top := len(lines) + 2
	for i, header := range paymentHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, top)
		if err := f.SetCellValue(SummarySheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(SummarySheet, cell, cell, labelStyle); err != nil {
			return err
		}
	}
	for i, b := range report.ByPayment {
		cell, _ := excelize.CoordinatesToCellName(1, top+i+1)
		row := []any{string(b.PaymentMethod), b.Sales, b.Total.InexactFloat64()}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
