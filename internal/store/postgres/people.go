package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

const customerColumns = `id, name, phone, email, address, credit_balance, total_spent, credit_limit, visit_count, walk_in, lifecycle, created_at, updated_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.CreditBalance, &c.TotalSpent, &c.CreditLimit,
		&c.VisitCount, &c.WalkIn, &c.Lifecycle, &c.CreatedAt, &c.UpdatedAt)
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context, includeArchived bool) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE $1 OR lifecycle = 'ACTIVE'
		ORDER BY walk_in DESC, lower(name)
	`, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.db, id, false)
}

func getCustomer(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCustomer(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, address, credit_balance, total_spent, credit_limit, visit_count, walk_in, lifecycle, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.CreditBalance, customer.TotalSpent,
		customer.CreditLimit, customer.VisitCount, customer.WalkIn, customer.Lifecycle, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, address = $5, credit_limit = $6, lifecycle = $7, updated_at = $8
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.CreditLimit, customer.Lifecycle, customer.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetCustomer(ctx, customer.ID)
}

func (s *Store) CreateCustomerPayment(ctx context.Context, payment domain.CustomerPayment) (*domain.Customer, error) {
	if !payment.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidInput)
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}

	var updated *domain.Customer
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		customer, err := getCustomer(ctx, tx, payment.CustomerID, true)
		if err != nil {
			return err
		}
		if payment.Amount.GreaterThan(customer.CreditBalance) {
			return fmt.Errorf("%w: payment exceeds outstanding balance %s", store.ErrConflict, customer.CreditBalance.StringFixed(2))
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO customer_payments (id, customer_id, amount, note, user_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, payment.ID, payment.CustomerID, payment.Amount, payment.Note, nullIfEmpty(payment.UserID), payment.CreatedAt); err != nil {
			return err
		}
		customer.CreditBalance = domain.RoundMoney(customer.CreditBalance.Sub(payment.Amount))
		customer.UpdatedAt = payment.CreatedAt
		if _, err := tx.ExecContext(ctx, `UPDATE customers SET credit_balance = $2, updated_at = $3 WHERE id = $1`,
			customer.ID, customer.CreditBalance, customer.UpdatedAt); err != nil {
			return err
		}
		updated = customer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListCustomerPayments(ctx context.Context, customerID string) ([]domain.CustomerPayment, error) {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, amount, note, COALESCE(user_id, ''), created_at
		FROM customer_payments
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CustomerPayment, 0, 16)
	for rows.Next() {
		var p domain.CustomerPayment
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.Amount, &p.Note, &p.UserID, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

const supplierColumns = `id, name, phone, email, address, created_at, updated_at`

func scanSupplier(row rowScanner) (domain.Supplier, error) {
	var sp domain.Supplier
	err := row.Scan(&sp.ID, &sp.Name, &sp.Phone, &sp.Email, &sp.Address, &sp.CreatedAt, &sp.UpdatedAt)
	sp.CreatedAt, sp.UpdatedAt = sp.CreatedAt.UTC(), sp.UpdatedAt.UTC()
	return sp, err
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY lower(name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		sp, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	sp, err := scanSupplier(s.db.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &sp, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, email, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Email, supplier.Address, supplier.CreatedAt, supplier.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &supplier, nil
}

func (s *Store) UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suppliers SET name = $2, phone = $3, email = $4, address = $5, updated_at = $6
		WHERE id = $1
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Email, supplier.Address, supplier.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetSupplier(ctx, supplier.ID)
}

// DeleteSupplier relies on the purchases foreign key to refuse suppliers
// that still have history.
func (s *Store) DeleteSupplier(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

const roleSelect = `
	SELECT r.id, r.name, r.permissions, r.is_system,
		(SELECT count(*) FROM users u WHERE u.role_id = r.id),
		r.created_at, r.updated_at
	FROM roles r`

func scanRole(row rowScanner) (domain.Role, error) {
	var (
		r   domain.Role
		raw []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &raw, &r.IsSystem, &r.UserCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	matrix, err := permission.Decode(raw)
	if err != nil {
		return r, fmt.Errorf("role %s: %w", r.ID, err)
	}
	r.Permissions = matrix
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := s.db.QueryContext(ctx, roleSelect+` ORDER BY lower(r.name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Role, 0, 8)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetRole(ctx context.Context, id string) (*domain.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, roleSelect+` WHERE r.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) CreateRole(ctx context.Context, role domain.Role) (*domain.Role, error) {
	if err := insertRole(ctx, s.db, role); err != nil {
		return nil, mapError(err)
	}
	return s.GetRole(ctx, role.ID)
}

func insertRole(ctx context.Context, q queryer, role domain.Role) error {
	raw, err := role.Permissions.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO roles (id, name, permissions, is_system, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, role.ID, role.Name, raw, role.IsSystem, role.CreatedAt, role.UpdatedAt)
	return err
}

func (s *Store) UpdateRole(ctx context.Context, role domain.Role) (*domain.Role, error) {
	raw, err := role.Permissions.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $2, permissions = $3, updated_at = $4
		WHERE id = $1
	`, role.ID, role.Name, raw, role.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, role.ID)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			isSystem bool
			users    int
		)
		err := tx.QueryRowContext(ctx, `
			SELECT r.is_system, (SELECT count(*) FROM users u WHERE u.role_id = r.id)
			FROM roles r WHERE r.id = $1 FOR UPDATE
		`, id).Scan(&isSystem, &users)
		if err != nil {
			return notFound(err)
		}
		if isSystem {
			return fmt.Errorf("%w: system roles cannot be deleted", store.ErrConflict)
		}
		if users > 0 {
			return fmt.Errorf("%w: role is assigned to %d user(s)", store.ErrConflict, users)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
		return err
	})
}

const userSelect = `
	SELECT u.id, u.name, u.username, u.password_hash, u.role_id, COALESCE(r.name, ''),
		u.active, u.is_system, u.protected, u.created_at, u.updated_at
	FROM users u
	LEFT JOIN roles r ON r.id = u.role_id`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Username, &u.PasswordHash, &u.RoleID, &u.RoleName,
		&u.Active, &u.IsSystem, &u.Protected, &u.CreatedAt, &u.UpdatedAt)
	u.CreatedAt, u.UpdatedAt = u.CreatedAt.UTC(), u.UpdatedAt.UTC()
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, userSelect+` WHERE NOT u.is_system ORDER BY u.username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE u.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE lower(u.username) = lower($1)`, username))
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// CreateUser marks the very first real user as protected.
func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if !user.IsSystem {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE NOT is_system`).Scan(&count); err != nil {
				return err
			}
			if count == 0 {
				user.Protected = true
			}
		}
		return insertUser(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, user.ID)
}

func insertUser(ctx context.Context, q queryer, user domain.User) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, name, username, password_hash, role_id, active, is_system, protected, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, user.ID, user.Name, user.Username, user.PasswordHash, user.RoleID, user.Active, user.IsSystem, user.Protected, user.CreatedAt, user.UpdatedAt)
	return err
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, role_id = $3, active = $4,
			password_hash = CASE WHEN $5 = '' THEN password_hash ELSE $5 END,
			updated_at = $6
		WHERE id = $1
	`, user.ID, user.Name, user.RoleID, user.Active, user.PasswordHash, user.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, user.ID)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			username            string
			isSystem, protected bool
		)
		err := tx.QueryRowContext(ctx, `SELECT username, is_system, protected FROM users WHERE id = $1 FOR UPDATE`, id).
			Scan(&username, &isSystem, &protected)
		if err != nil {
			return notFound(err)
		}
		if isSystem || protected {
			return fmt.Errorf("%w: user %q cannot be deleted", store.ErrConflict, username)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE NOT is_system`).Scan(&count)
	return count, err
}
