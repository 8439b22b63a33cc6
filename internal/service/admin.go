package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/cart"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/spreadsheet"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

const (
	defaultStoreName = "My Store"
	defaultCurrency  = "IDR"
	systemUsername   = "system"
	walkInName       = "Walk-in"
	defaultCategory  = "General"
	maxReportDays    = 366
)

var baseUnits = []domain.Unit{
	{Name: "Piece", Symbol: "pcs"},
	{Name: "Kilogram", Symbol: "kg"},
	{Name: "Liter", Symbol: "ltr"},
	{Name: "Box", Symbol: "box"},
}

// Bootstrap performs first-run initialization. It only succeeds while no real
// user exists and writes everything or nothing.
func (s *Service) Bootstrap(ctx context.Context, req domain.SetupRequest) (*domain.User, error) {
	name := strings.TrimSpace(req.Name)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if name == "" || username == "" {
		return nil, fmt.Errorf("%w: name and username are required", store.ErrInvalidInput)
	}
	if username == systemUsername {
		return nil, fmt.Errorf("%w: username %q is reserved", store.ErrInvalidInput, systemUsername)
	}
	needsSetup, err := s.NeedsSetup(ctx)
	if err != nil {
		return nil, err
	}
	if !needsSetup {
		return nil, fmt.Errorf("%w: already initialized", store.ErrConflict)
	}
	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	adminRole := domain.Role{
		ID: xid.New("role"), Name: permission.SuperAdminRole, Permissions: permission.Full(),
		IsSystem: true, CreatedAt: now, UpdatedAt: now,
	}
	cashierRole := domain.Role{
		ID: xid.New("role"), Name: permission.CashierRole, Permissions: permission.CashierDefaults(),
		IsSystem: true, CreatedAt: now, UpdatedAt: now,
	}
	units := make([]domain.Unit, 0, len(baseUnits))
	for _, u := range baseUnits {
		u.ID = xid.New("unit")
		u.Lifecycle = domain.LifecycleActive
		u.CreatedAt = now
		u.UpdatedAt = now
		units = append(units, u)
	}
	storeName := strings.TrimSpace(req.StoreName)
	if storeName == "" {
		storeName = defaultStoreName
	}

	data := domain.BootstrapData{
		Roles: []domain.Role{adminRole, cashierRole},
		Units: units,
		Category: domain.Category{
			ID: xid.New("cat"), Name: defaultCategory, Lifecycle: domain.LifecycleActive,
			CreatedAt: now, UpdatedAt: now,
		},
		SystemUser: domain.User{
			ID: xid.New("user"), Name: "System", Username: systemUsername, RoleID: cashierRole.ID,
			IsSystem: true, CreatedAt: now, UpdatedAt: now,
		},
		Admin: domain.User{
			ID: xid.New("user"), Name: name, Username: username, PasswordHash: hash, RoleID: adminRole.ID,
			Active: true, Protected: true, CreatedAt: now, UpdatedAt: now,
		},
		WalkIn: domain.Customer{
			ID: xid.New("cust"), Name: walkInName, WalkIn: true, Lifecycle: domain.LifecycleActive,
			CreatedAt: now, UpdatedAt: now,
		},
		Settings: domain.Settings{
			StoreName: storeName,
			Currency:  defaultCurrency,
			TaxMode:   cart.Percent,
			TaxValue:  decimal.Zero,
			UpdatedAt: now,
		},
	}
	if err := s.repo.Bootstrap(ctx, data); err != nil {
		return nil, err
	}

	admin, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	s.logAudit(WithActor(ctx, domain.Actor{UserID: admin.ID}), "setup", "user", admin.ID, "store="+storeName)
	return admin, nil
}

// WipeHistory deletes every sale, purchase and movement after re-checking the
// caller's password. Only Super Admin may run it.
func (s *Service) WipeHistory(ctx context.Context, password string) (domain.WipeResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.WipeResult{}, ErrUnauthenticated
	}
	if !isSuperAdmin(actor) {
		return domain.WipeResult{}, ErrForbidden
	}
	user, err := s.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.WipeResult{}, ErrUnauthenticated
		}
		return domain.WipeResult{}, err
	}
	if password == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logAudit(ctx, "history_wipe_denied", "system", "", "reason=bad_password")
		return domain.WipeResult{}, fmt.Errorf("%w: password is incorrect", store.ErrInvalidInput)
	}

	result, err := s.repo.WipeHistory(ctx)
	if err != nil {
		return domain.WipeResult{}, err
	}
	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "history_wipe", "system", "",
		fmt.Sprintf("sales=%d,purchases=%d,movements=%d", result.Sales, result.Purchases, result.StockMovements))
	s.log.Warn("transaction history wiped", "user_id", actor.UserID, "sales", result.Sales, "movements", result.StockMovements)
	return result, nil
}

func (s *Service) GetSettings(ctx context.Context) (*domain.Settings, error) {
	if _, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, in domain.Settings) (*domain.Settings, error) {
	if _, err := s.authorize(ctx, permission.ModuleSettings, permission.ActionEdit); err != nil {
		return nil, err
	}
	in.StoreName = strings.TrimSpace(in.StoreName)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.StoreName == "" {
		return nil, fmt.Errorf("%w: store name is required", store.ErrInvalidInput)
	}
	if in.Currency == "" {
		in.Currency = defaultCurrency
	}
	if in.TaxMode == "" {
		in.TaxMode = cart.Percent
	}
	if !(cart.Adjustment{Mode: in.TaxMode, Value: in.TaxValue}).Valid() {
		return nil, fmt.Errorf("%w: invalid default tax", store.ErrInvalidInput)
	}
	in.UpdatedAt = s.clock()

	saved, err := s.repo.SaveSettings(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "settings_update", "settings", "", "store="+saved.StoreName)
	return saved, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := s.authorize(ctx, permission.ModuleReports, permission.ActionView); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

// SalesReport totals completed sales between two calendar dates, both
// inclusive, in the store's timezone. Empty dates mean today. Totals are net
// of partial returns.
func (s *Service) SalesReport(ctx context.Context, from string, to string) (domain.SalesReport, error) {
	if _, err := s.authorize(ctx, permission.ModuleReports, permission.ActionView); err != nil {
		return domain.SalesReport{}, err
	}
	rng, err := s.reportRange(from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{From: &rng.start, To: &rng.end})
	if err != nil {
		return domain.SalesReport{}, err
	}
	return buildSalesReport(rng.from, rng.to, sales), nil
}

// ExportSalesReport writes the report for the range as an .xlsx workbook with
// a summary sheet and the sales behind it.
func (s *Service) ExportSalesReport(ctx context.Context, from string, to string, w io.Writer) error {
	if _, err := s.authorize(ctx, permission.ModuleReports, permission.ActionExport); err != nil {
		return err
	}
	rng, err := s.reportRange(from, to)
	if err != nil {
		return err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{From: &rng.start, To: &rng.end})
	if err != nil {
		return err
	}
	report := buildSalesReport(rng.from, rng.to, sales)
	if err := spreadsheet.WriteSalesReport(w, report, sales, s.loc); err != nil {
		return err
	}
	s.logAudit(ctx, "report_export", "report", "", fmt.Sprintf("from=%s to=%s sales=%d", rng.from, rng.to, len(sales)))
	return nil
}

// ExportSales writes every sale in the range, whatever its status, as an
// .xlsx workbook.
func (s *Service) ExportSales(ctx context.Context, from string, to string, w io.Writer) error {
	if _, err := s.authorize(ctx, permission.ModuleSales, permission.ActionExport); err != nil {
		return err
	}
	rng, err := s.reportRange(from, to)
	if err != nil {
		return err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{From: &rng.start, To: &rng.end})
	if err != nil {
		return err
	}
	if err := spreadsheet.WriteSales(w, sales, s.loc); err != nil {
		return err
	}
	s.logAudit(ctx, "sale_export", "sale", "", fmt.Sprintf("from=%s to=%s rows=%d", rng.from, rng.to, len(sales)))
	return nil
}

type dateRange struct {
	from  string
	to    string
	start time.Time
	end   time.Time
}

// reportRange resolves two inclusive calendar dates into a half-open range
// in the store's timezone.
func (s *Service) reportRange(from string, to string) (dateRange, error) {
	today := s.clock().In(s.loc).Format("2006-01-02")
	if from == "" {
		from = today
	}
	if to == "" {
		to = from
	}
	start, err := time.ParseInLocation("2006-01-02", from, s.loc)
	if err != nil {
		return dateRange{}, fmt.Errorf("%w: from must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	last, err := time.ParseInLocation("2006-01-02", to, s.loc)
	if err != nil {
		return dateRange{}, fmt.Errorf("%w: to must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	if last.Before(start) {
		return dateRange{}, fmt.Errorf("%w: to is before from", store.ErrInvalidInput)
	}
	end := last.AddDate(0, 0, 1)
	if end.Sub(start) > maxReportDays*24*time.Hour {
		return dateRange{}, fmt.Errorf("%w: range is longer than %d days", store.ErrInvalidInput, maxReportDays)
	}
	return dateRange{from: from, to: to, start: start, end: end}, nil
}

func buildSalesReport(from string, to string, sales []domain.Sale) domain.SalesReport {
	report := domain.SalesReport{
		From:        from,
		To:          to,
		Subtotal:    decimal.Zero,
		Discount:    decimal.Zero,
		Tax:         decimal.Zero,
		Refunds:     decimal.Zero,
		Total:       decimal.Zero,
		Outstanding: decimal.Zero,
		ByPayment:   []domain.PaymentBreakdown{},
	}
	byMethod := make(map[domain.PaymentMethod]*domain.PaymentBreakdown)
	for _, sale := range sales {
		switch sale.Status {
		case domain.SaleVoid:
			report.VoidedSales++
			continue
		case domain.SaleReturned:
			report.ReturnedSales++
			continue
		case domain.SaleCompleted:
		default:
			continue
		}
		net := sale.NetTotal()
		report.Sales++
		report.Subtotal = report.Subtotal.Add(sale.Subtotal)
		report.Discount = report.Discount.Add(sale.DiscountAmount)
		report.Tax = report.Tax.Add(sale.TaxAmount)
		report.Refunds = report.Refunds.Add(sale.RefundedAmount)
		report.Total = report.Total.Add(net)
		if sale.PaymentStatus == domain.PaymentUnpaid {
			report.Outstanding = report.Outstanding.Add(net)
		}
		b, ok := byMethod[sale.PaymentMethod]
		if !ok {
			b = &domain.PaymentBreakdown{PaymentMethod: sale.PaymentMethod, Total: decimal.Zero}
			byMethod[sale.PaymentMethod] = b
		}
		b.Sales++
		b.Total = b.Total.Add(net)
	}

	report.Subtotal = domain.RoundMoney(report.Subtotal)
	report.Discount = domain.RoundMoney(report.Discount)
	report.Tax = domain.RoundMoney(report.Tax)
	report.Refunds = domain.RoundMoney(report.Refunds)
	report.Total = domain.RoundMoney(report.Total)
	report.Outstanding = domain.RoundMoney(report.Outstanding)
	for _, b := range byMethod {
		b.Total = domain.RoundMoney(b.Total)
		report.ByPayment = append(report.ByPayment, *b)
	}
	sort.Slice(report.ByPayment, func(i, j int) bool {
		return report.ByPayment[i].PaymentMethod < report.ByPayment[j].PaymentMethod
	})
	return report
}
