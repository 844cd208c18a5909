package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"referral-system/internal/account/domain"
)

var (
	columns = []string{"phone_number", "verified", "verification_code", "verification_code_issued_at",
		"invite_code", "redeemed_invite_code", "created_at", "updated_at"}
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

const (
	selectByPhone   = `(?s)^SELECT\s+phone_number,.*FROM\s+accounts\s+WHERE\s+phone_number\s*=\s*\$1$`
	selectByInvite  = `(?s)^SELECT\s+phone_number,.*FROM\s+accounts\s+WHERE\s+invite_code\s*=\s*\$1$`
	selectForUpdate = `(?s)^SELECT\s+phone_number,.*FROM\s+accounts\s+WHERE\s+phone_number\s*=\s*\$1\s+FOR\s+UPDATE$`
	updateAccount   = `(?s)^UPDATE\s+accounts\s+SET.*invite_code\s*=\s*COALESCE\(invite_code,\s*\$5\).*redeemed_invite_code\s*=\s*COALESCE\(redeemed_invite_code,\s*\$6\).*RETURNING`
	insertAccount   = `(?s)^INSERT\s+INTO\s+accounts\s*\(.*\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7,\s*\$7\)\s*RETURNING\s+created_at,\s*updated_at$`
	listRedeemed    = `(?s)^SELECT\s+phone_number,.*WHERE\s+redeemed_invite_code\s*=\s*\$1\s+ORDER\s+BY\s+phone_number$`
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	repo := NewPostgresRepository(sqlDB)
	repo.nowF = func() time.Time { return fixedNow }
	return repo, mock
}

func pendingRow(phone, code string, issued time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(columns).AddRow(phone, false, code, issued, nil, nil, fixedNow, fixedNow)
}

func TestPostgres_GetByPhone_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	issued := fixedNow.Add(-time.Minute)
	mock.ExpectQuery(selectByPhone).WithArgs("15551234567").WillReturnRows(pendingRow("15551234567", "1234", issued))

	got, err := repo.GetByPhone(context.Background(), "15551234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "1234", got.VerificationCode)
	require.NotNil(t, got.VerificationCodeIssuedAt)
	require.True(t, got.VerificationCodeIssuedAt.Equal(issued))
	require.Empty(t, got.InviteCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetByPhone_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(selectByPhone).WithArgs("15550000000").WillReturnError(sql.ErrNoRows)

	got, err := repo.GetByPhone(context.Background(), "15550000000")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPostgres_GetByPhone_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(selectByPhone).WithArgs("15551234567").WillReturnError(errors.New("db down"))

	_, err := repo.GetByPhone(context.Background(), "15551234567")
	require.ErrorContains(t, err, "db error: db down")
}

func TestPostgres_GetByInviteCode(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	rows := sqlmock.NewRows(columns).AddRow("15550000001", true, nil, nil, "ABC123", nil, fixedNow, fixedNow)
	mock.ExpectQuery(selectByInvite).WithArgs("ABC123").WillReturnRows(rows)

	got, err := repo.GetByInviteCode(context.Background(), "ABC123")
	require.NoError(t, err)
	require.Equal(t, "15550000001", got.PhoneNumber)
	require.True(t, got.Verified)
	require.Nil(t, got.VerificationCodeIssuedAt)
}

func TestPostgres_Create(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	a := &domain.Account{PhoneNumber: "15551234567"}
	a.IssueCode("1234", fixedNow)

	mock.ExpectQuery(insertAccount).
		WithArgs("15551234567", false, "1234", fixedNow, nil, nil, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedNow, fixedNow))

	require.NoError(t, repo.Create(context.Background(), a))
	require.True(t, a.CreatedAt.Equal(fixedNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Create_Duplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(insertAccount).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_pkey"})

	err := repo.Create(context.Background(), &domain.Account{PhoneNumber: "15551234567"})
	require.ErrorIs(t, err, ErrAccountExists)
}

func TestPostgres_Update_AppliesAndCommits(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	issued := fixedNow.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("15551234567").WillReturnRows(pendingRow("15551234567", "1234", issued))
	mock.ExpectQuery(updateAccount).
		WithArgs("15551234567", true, nil, nil, "ABC123", nil, fixedNow).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("15551234567", true, nil, nil, "ABC123", nil, fixedNow, fixedNow))
	mock.ExpectCommit()

	got, err := repo.Update(context.Background(), "15551234567", func(a *domain.Account) error {
		a.Verified = true
		a.InviteCode = "ABC123"
		a.ClearCode()
		return nil
	})
	require.NoError(t, err)
	require.True(t, got.Verified)
	require.Equal(t, "ABC123", got.InviteCode)
	require.Empty(t, got.VerificationCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Update_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("15550000000").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "15550000000", func(a *domain.Account) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Update_FnErrorRollsBack(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("15551234567").WillReturnRows(pendingRow("15551234567", "1234", fixedNow))
	mock.ExpectRollback()

	sentinel := errors.New("code mismatch")
	_, err := repo.Update(context.Background(), "15551234567", func(a *domain.Account) error { return sentinel })
	require.ErrorIs(t, err, sentinel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Update_InviteCodeTaken(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(selectForUpdate).WithArgs("15551234567").WillReturnRows(pendingRow("15551234567", "1234", fixedNow))
	mock.ExpectQuery(updateAccount).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_invite_code_key"})
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "15551234567", func(a *domain.Account) error {
		a.Verified = true
		a.InviteCode = "ABC123"
		a.ClearCode()
		return nil
	})
	require.ErrorIs(t, err, ErrInviteCodeTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListByRedeemedInviteCode(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	rows := sqlmock.NewRows(columns).
		AddRow("15550000002", true, nil, nil, "BBB222", "ABC123", fixedNow, fixedNow).
		AddRow("15550000003", true, nil, nil, nil, "ABC123", fixedNow, fixedNow)
	mock.ExpectQuery(listRedeemed).WithArgs("ABC123").WillReturnRows(rows)

	got, err := repo.ListByRedeemedInviteCode(context.Background(), "ABC123")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "15550000002", got[0].PhoneNumber)
	require.Equal(t, "ABC123", got[1].RedeemedInviteCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListByRedeemedInviteCode_EmptyCode(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	got, err := repo.ListByRedeemedInviteCode(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet(), "empty code must not query")
}

func TestPostgres_Ping(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectPing()
	require.NoError(t, repo.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("conn refused"))
	require.Error(t, repo.Ping(context.Background()))
}
