package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

func (s *Store) ListCustomers(_ context.Context, includeArchived bool) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if !includeArchived && customer.Lifecycle != domain.LifecycleActive {
			continue
		}
		out = append(out, customer)
	}
	sortByName(out, func(c domain.Customer) string { return c.Name })
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.WalkIn && s.hasWalkInLocked() {
		return nil, fmt.Errorf("%w: walk-in customer already exists", store.ErrConflict)
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Name = customer.Name
	existing.Phone = customer.Phone
	existing.Email = customer.Email
	existing.Address = customer.Address
	existing.CreditLimit = customer.CreditLimit
	existing.Lifecycle = customer.Lifecycle
	existing.UpdatedAt = customer.UpdatedAt
	s.customers[customer.ID] = existing
	return &existing, nil
}

func (s *Store) CreateCustomerPayment(_ context.Context, payment domain.CustomerPayment) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[payment.CustomerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !payment.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidInput)
	}
	if payment.Amount.GreaterThan(customer.CreditBalance) {
		return nil, fmt.Errorf("%w: payment exceeds outstanding balance %s", store.ErrConflict, customer.CreditBalance.StringFixed(2))
	}

	customer.CreditBalance = domain.RoundMoney(customer.CreditBalance.Sub(payment.Amount))
	customer.UpdatedAt = payment.CreatedAt
	s.customers[customer.ID] = customer
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	s.payments = append(s.payments, payment)
	return &customer, nil
}

func (s *Store) ListCustomerPayments(_ context.Context, customerID string) ([]domain.CustomerPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.customers[customerID]; !ok {
		return nil, store.ErrNotFound
	}
	out := make([]domain.CustomerPayment, 0, 8)
	for i := len(s.payments) - 1; i >= 0; i-- {
		if s.payments[i].CustomerID == customerID {
			out = append(out, s.payments[i])
		}
	}
	return out, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		out = append(out, supplier)
	}
	sortByName(out, func(s domain.Supplier) string { return s.Name })
	return out, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) UpdateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.suppliers[supplier.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	supplier.CreatedAt = existing.CreatedAt
	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) DeleteSupplier(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[id]; !ok {
		return store.ErrNotFound
	}
	for _, purchase := range s.purchases {
		if purchase.SupplierID == id {
			return fmt.Errorf("%w: supplier has purchases", store.ErrConflict)
		}
	}
	delete(s.suppliers, id)
	return nil
}

func (s *Store) ListRoles(_ context.Context) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, s.roleViewLocked(role))
	}
	sortByName(out, func(r domain.Role) string { return r.Name })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, id string) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := s.roleViewLocked(role)
	return &out, nil
}

func (s *Store) CreateRole(_ context.Context, role domain.Role) (*domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roleNameTakenLocked(role.Name, "") {
		return nil, fmt.Errorf("%w: role %q already exists", store.ErrConflict, role.Name)
	}
	role.Permissions = role.Permissions.Clone()
	s.roles[role.ID] = role
	out := s.roleViewLocked(role)
	return &out, nil
}

func (s *Store) UpdateRole(_ context.Context, role domain.Role) (*domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.roles[role.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.roleNameTakenLocked(role.Name, role.ID) {
		return nil, fmt.Errorf("%w: role %q already exists", store.ErrConflict, role.Name)
	}
	existing.Name = role.Name
	existing.Permissions = role.Permissions.Clone()
	existing.UpdatedAt = role.UpdatedAt
	s.roles[role.ID] = existing
	out := s.roleViewLocked(existing)
	return &out, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[id]
	if !ok {
		return store.ErrNotFound
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles cannot be deleted", store.ErrConflict)
	}
	if n := s.roleUsersLocked(id); n > 0 {
		return fmt.Errorf("%w: role is assigned to %d user(s)", store.ErrConflict, n)
	}
	delete(s.roles, id)
	return nil
}

func (s *Store) roleViewLocked(role domain.Role) domain.Role {
	role.Permissions = role.Permissions.Clone()
	role.UserCount = s.roleUsersLocked(role.ID)
	return role
}

func (s *Store) roleUsersLocked(roleID string) int {
	count := 0
	for _, user := range s.users {
		if user.RoleID == roleID {
			count++
		}
	}
	return count
}

func (s *Store) roleNameTakenLocked(name string, exceptID string) bool {
	for id, existing := range s.roles {
		if id != exceptID && sameName(existing.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		if user.IsSystem {
			continue
		}
		out = append(out, s.userViewLocked(user))
	}
	slices.SortFunc(out, func(a, b domain.User) int { return cmpString(a.Username, b.Username) })
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	user = s.userViewLocked(user)
	return &user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.findUserLocked(username)
	if !ok {
		return nil, store.ErrNotFound
	}
	user = s.userViewLocked(user)
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.findUserLocked(user.Username); taken {
		return nil, fmt.Errorf("%w: username %q already exists", store.ErrConflict, user.Username)
	}
	if _, ok := s.roles[user.RoleID]; !ok {
		return nil, fmt.Errorf("%w: unknown role %s", store.ErrInvalidInput, user.RoleID)
	}
	if !user.IsSystem && s.countUsersLocked() == 0 {
		user.Protected = true
	}
	s.users[user.ID] = user
	user = s.userViewLocked(user)
	return &user, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.roles[user.RoleID]; !ok {
		return nil, fmt.Errorf("%w: unknown role %s", store.ErrInvalidInput, user.RoleID)
	}
	existing.Name = user.Name
	existing.RoleID = user.RoleID
	existing.Active = user.Active
	if user.PasswordHash != "" {
		existing.PasswordHash = user.PasswordHash
	}
	existing.UpdatedAt = user.UpdatedAt
	s.users[user.ID] = existing
	existing = s.userViewLocked(existing)
	return &existing, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if user.IsSystem || user.Protected {
		return fmt.Errorf("%w: user %q cannot be deleted", store.ErrConflict, user.Username)
	}
	for _, sale := range s.sales {
		if sale.CashierID == id {
			return fmt.Errorf("%w: user has recorded sales, deactivate instead", store.ErrConflict)
		}
	}
	delete(s.users, id)
	return nil
}

func (s *Store) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countUsersLocked(), nil
}

func (s *Store) userViewLocked(user domain.User) domain.User {
	if role, ok := s.roles[user.RoleID]; ok {
		user.RoleName = role.Name
	}
	return user
}

func (s *Store) findUserLocked(username string) (domain.User, bool) {
	for _, user := range s.users {
		if sameName(user.Username, username) {
			return user, true
		}
	}
	return domain.User{}, false
}
