// seed inserts development sample accounts for local testing.
// Idempotent: accounts that already exist are left untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"referral-system/internal/account/domain"
	"referral-system/internal/account/repository"
	"referral-system/internal/config"
	"referral-system/internal/db"
)

const (
	referrerPhone = "15550000001"
	referrerCode  = "ABC123"
	refereePhone  = "15550000002"
	refereeCode   = "DEF456"
	pendingPhone  = "15550000003"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env or set DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "database:", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := seed(ctx, repository.NewPostgresRepository(sqlDB)); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
	fmt.Printf("seed: done. referrer %s (invite %s), referee %s, pending %s\n",
		referrerPhone, referrerCode, refereePhone, pendingPhone)
}

func seed(ctx context.Context, repo repository.Repository) error {
	accounts := []*domain.Account{
		{PhoneNumber: referrerPhone, Verified: true, InviteCode: referrerCode},
		{PhoneNumber: refereePhone, Verified: true, InviteCode: refereeCode},
		{PhoneNumber: pendingPhone},
	}
	for _, a := range accounts {
		err := repo.Create(ctx, a)
		switch {
		case errors.Is(err, repository.ErrAccountExists):
			fmt.Printf("seed: %s already exists, skipping\n", a.PhoneNumber)
		case err != nil:
			return fmt.Errorf("create %s: %w", a.PhoneNumber, err)
		}
	}

	_, err := repo.Update(ctx, refereePhone, func(a *domain.Account) error {
		if a.RedeemedInviteCode == "" {
			a.RedeemedInviteCode = referrerCode
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redeem %s for %s: %w", referrerCode, refereePhone, err)
	}
	return nil
}
