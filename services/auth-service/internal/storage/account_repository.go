package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("account not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidInput = errors.New("invalid account")
)

// Account is a staff member's sign-in identity. StaffID matches the staff id
// used by the booking service.
type Account struct {
	ID           string
	StaffID      string
	ShopID       string
	Email        string
	PasswordHash string
	Role         string
	Disabled     bool
}

type AccountRepository struct {
	pool *db.Pool
}

func NewAccountRepository(pool *db.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *AccountRepository) Create(ctx context.Context, a Account) (Account, error) {
	a.Email = NormalizeEmail(a.Email)
	if a.Email == "" || a.StaffID == "" || a.PasswordHash == "" {
		return Account{}, ErrInvalidInput
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff_accounts (id, staff_id, shop_id, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.StaffID, a.ShopID, a.Email, a.PasswordHash, a.Role)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Account{}, ErrEmailTaken
		}
		return Account{}, err
	}
	return a, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	return r.get(ctx, `WHERE email = $1`, NormalizeEmail(email))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (Account, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *AccountRepository) get(ctx context.Context, where string, arg string) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, staff_id, shop_id, email, password_hash, role, disabled_at IS NOT NULL
		FROM staff_accounts
		`+where, arg).Scan(&a.ID, &a.StaffID, &a.ShopID, &a.Email, &a.PasswordHash, &a.Role, &a.Disabled)
	if err != nil {
		if db.IsNotFound(err) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// Disable blocks future sign-ins and revokes the account's refresh tokens.
func (r *AccountRepository) Disable(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE staff_accounts SET disabled_at = COALESCE(disabled_at, now()) WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = now() WHERE account_id = $1 AND revoked_at IS NULL`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
