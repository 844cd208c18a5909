package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"referral-system/internal/account/domain"
	"referral-system/internal/db"
)

const (
	accountColumns = `phone_number, verified, verification_code, verification_code_issued_at,
		invite_code, redeemed_invite_code, created_at, updated_at`

	pkeyConstraint       = "accounts_pkey"
	inviteCodeConstraint = "accounts_invite_code_key"
)

// PostgresRepository stores accounts in the accounts table.
type PostgresRepository struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB, nowF: func() time.Time { return time.Now().UTC() }}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a        domain.Account
		code     sql.NullString
		issuedAt sql.NullTime
		invite   sql.NullString
		redeemed sql.NullString
	)
	if err := row.Scan(&a.PhoneNumber, &a.Verified, &code, &issuedAt, &invite, &redeemed, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.VerificationCode = code.String
	if issuedAt.Valid {
		t := issuedAt.Time.UTC()
		a.VerificationCodeIssuedAt = &t
	}
	a.InviteCode = invite.String
	a.RedeemedInviteCode = redeemed.String
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// GetByPhone returns the account for phone, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone_number = $1`, phone)
}

// GetByInviteCode returns the account owning code, or nil if not found.
func (r *PostgresRepository) GetByInviteCode(ctx context.Context, code string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE invite_code = $1`, code)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// Create inserts the account. Returns ErrAccountExists if the phone number is already registered.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	now := r.nowF()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (phone_number, verified, verification_code, verification_code_issued_at,
			invite_code, redeemed_invite_code, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING created_at, updated_at`,
		a.PhoneNumber, a.Verified, nullString(a.VerificationCode), nullTime(a.VerificationCodeIssuedAt),
		nullString(a.InviteCode), nullString(a.RedeemedInviteCode), now,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, pkeyConstraint):
			return ErrAccountExists
		case db.IsUniqueViolation(err, inviteCodeConstraint):
			return ErrInviteCodeTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and writes the result in the same transaction.
// invite_code and redeemed_invite_code are written with COALESCE so stored values are never replaced.
func (r *PostgresRepository) Update(ctx context.Context, phone string, fn UpdateFunc) (*domain.Account, error) {
	var out *domain.Account
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		current, err := scanAccount(tx.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE phone_number = $1 FOR UPDATE`, phone))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}

		updated, err := scanAccount(tx.QueryRowContext(ctx,
			`UPDATE accounts SET
				verified = $2,
				verification_code = $3,
				verification_code_issued_at = $4,
				invite_code = COALESCE(invite_code, $5),
				redeemed_invite_code = COALESCE(redeemed_invite_code, $6),
				updated_at = $7
			 WHERE phone_number = $1
			 RETURNING `+accountColumns,
			phone, next.Verified, nullString(next.VerificationCode), nullTime(next.VerificationCodeIssuedAt),
			nullString(next.InviteCode), nullString(next.RedeemedInviteCode), r.nowF(),
		))
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return ErrInviteCodeTaken
			}
			return fmt.Errorf("db error: %w", err)
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByRedeemedInviteCode returns accounts that redeemed code, ordered by phone number.
func (r *PostgresRepository) ListByRedeemedInviteCode(ctx context.Context, code string) ([]*domain.Account, error) {
	if code == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE redeemed_invite_code = $1 ORDER BY phone_number`, code)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
