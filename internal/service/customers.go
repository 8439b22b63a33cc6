package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

func (s *Service) ListCustomers(ctx context.Context, includeArchived bool) ([]domain.Customer, error) {
	if _, err := s.authorize(ctx, permission.ModuleCustomers, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, includeArchived)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if _, err := s.authorize(ctx, permission.ModuleCustomers, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.GetCustomer(ctx, id)
}

func (s *Service) CreateCustomer(ctx context.Context, in domain.CustomerInput) (*domain.Customer, error) {
	if _, err := s.authorize(ctx, permission.ModuleCustomers, permission.ActionCreate); err != nil {
		return nil, err
	}
	customer, err := customerFromInput(in)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	customer.ID = xid.New("cust")
	customer.Lifecycle = domain.LifecycleActive
	customer.CreatedAt = now
	customer.UpdatedAt = now

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, "name="+created.Name)
	return created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, in domain.CustomerInput) (*domain.Customer, error) {
	if _, err := s.authorize(ctx, permission.ModuleCustomers, permission.ActionEdit); err != nil {
		return nil, err
	}
	next, err := customerFromInput(in)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Name = next.Name
	existing.Phone = next.Phone
	existing.Email = next.Email
	existing.Address = next.Address
	existing.CreditLimit = next.CreditLimit
	existing.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateCustomer(ctx, *existing)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "customer_update", "customer", saved.ID, "name="+saved.Name)
	return saved, nil
}

// DeleteCustomer archives the customer. The walk-in customer always stays.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, permission.ModuleCustomers, permission.ActionDelete); err != nil {
		return err
	}
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return err
	}
	if existing.WalkIn {
		return fmt.Errorf("%w: the walk-in customer cannot be deleted", store.ErrConflict)
	}
	existing.Lifecycle = domain.LifecycleArchived
	existing.UpdatedAt = s.clock()
	if _, err := s.repo.UpdateCustomer(ctx, *existing); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_archive", "customer", id, "")
	return nil
}

// RecordCustomerPayment books a repayment against the customer's credit balance.
func (s *Service) RecordCustomerPayment(ctx context.Context, customerID string, req domain.CustomerPaymentRequest) (*domain.Customer, error) {
	actor, err := s.authorize(ctx, permission.ModuleCustomers, permission.ActionEdit)
	if err != nil {
		return nil, err
	}
	amount := domain.RoundMoney(req.Amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be greater than zero", store.ErrInvalidInput)
	}

	updated, err := s.repo.CreateCustomerPayment(ctx, domain.CustomerPayment{
		ID:         xid.New("pay"),
		CustomerID: customerID,
		Amount:     amount,
		Note:       strings.TrimSpace(req.Note),
		UserID:     actor.UserID,
		CreatedAt:  s.clock(),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "customer_payment", "customer", customerID,
		fmt.Sprintf("amount=%s,balance=%s", amount.StringFixed(2), updated.CreditBalance.StringFixed(2)))
	return updated, nil
}

func (s *Service) ListCustomerPayments(ctx context.Context, customerID string) ([]domain.CustomerPayment, error) {
	if _, err := s.authorize(ctx, permission.ModuleCustomers, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.ListCustomerPayments(ctx, customerID)
}

func customerFromInput(in domain.CustomerInput) (domain.Customer, error) {
	c := domain.Customer{
		Name:        strings.TrimSpace(in.Name),
		Phone:       strings.TrimSpace(in.Phone),
		Email:       strings.TrimSpace(in.Email),
		Address:     strings.TrimSpace(in.Address),
		CreditLimit: domain.RoundMoney(in.CreditLimit),
	}
	if c.Name == "" {
		return c, fmt.Errorf("%w: customer name is required", store.ErrInvalidInput)
	}
	if c.CreditLimit.IsNegative() {
		return c, fmt.Errorf("%w: credit limit cannot be negative", store.ErrInvalidInput)
	}
	return c, nil
}
