package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"social-outreach/internal/models"
)

const accountColumns = `id, login_type, login, password, proxy_type, proxy_host, proxy_port, proxy_username, proxy_password, is_active, created_at, updated_at`

// CreateAccount inserts an account row. Logins are unique.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (login_type, login, password, proxy_type, proxy_host, proxy_port, proxy_username, proxy_password, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, a.LoginType, a.Login, a.Password, a.ProxyType, a.ProxyHost, a.ProxyPort, a.ProxyUsername, a.ProxyPassword, a.IsActive).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateLogin
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount fetches an account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// ListAccounts returns all accounts in creation order.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccount rewrites the mutable fields of an account.
func (s *Store) UpdateAccount(ctx context.Context, a *models.Account) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET login_type = $2, login = $3, password = $4,
		    proxy_type = $5, proxy_host = $6, proxy_port = $7, proxy_username = $8, proxy_password = $9,
		    is_active = $10, updated_at = NOW()
		WHERE id = $1
	`, a.ID, a.LoginType, a.Login, a.Password, a.ProxyType, a.ProxyHost, a.ProxyPort, a.ProxyUsername, a.ProxyPassword, a.IsActive)
	if isUniqueViolation(err) {
		return ErrDuplicateLogin
	}
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account. Accounts referenced by campaign rows are
// protected by foreign keys and reported as ErrAccountInUse.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return ErrAccountInUse
	}
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var a models.Account
	var proxyType, proxyHost, proxyUser, proxyPass pgtype.Text
	var proxyPort pgtype.Int4

	err := row.Scan(&a.ID, &a.LoginType, &a.Login, &a.Password,
		&proxyType, &proxyHost, &proxyPort, &proxyUser, &proxyPass,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}

	a.ProxyType = textPtr(proxyType)
	a.ProxyHost = textPtr(proxyHost)
	a.ProxyPort = int4Ptr(proxyPort)
	a.ProxyUsername = textPtr(proxyUser)
	a.ProxyPassword = textPtr(proxyPass)
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
