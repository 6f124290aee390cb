// Package account implements user registration and login against the
// users table. Token issuance is an external collaborator out of scope
// here (spec.md §1); callers receive a bare user id on success and are
// expected to sit behind an upstream auth gateway that mints a session
// from it. Grounded on ovaphlow-pitchfork's internal/user/service.go for
// the PasswordHasher abstraction and bcrypt usage.
package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"aviator/internal/money"
)

var (
	ErrPhoneTaken         = errors.New("account: phone already registered")
	ErrInvalidCredentials = errors.New("account: invalid phone or password")
)

type Account struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Account {
	return &Account{pool: pool}
}

// Register creates a new user with a zero balance and an opaque
// external_payment_id, hashing the password with bcrypt.
func (a *Account) Register(ctx context.Context, phone, password string) (userID string, err error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("account: hash password: %w", err)
	}

	id := uuid.NewString()
	_, err = a.pool.Exec(ctx,
		`INSERT INTO users (id, phone, password_hash, balance, external_payment_id) VALUES ($1,$2,$3,0,$4)`,
		id, phone, string(hash), uuid.NewString())
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return "", ErrPhoneTaken
		}
		return "", fmt.Errorf("account: register: %w", err)
	}
	return id, nil
}

// Login verifies phone/password and returns the user's id and balance.
func (a *Account) Login(ctx context.Context, phone, password string) (userID string, balance money.Amount, err error) {
	var hash string
	err = a.pool.QueryRow(ctx, `SELECT id, password_hash, balance FROM users WHERE phone = $1`, phone).
		Scan(&userID, &hash, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", money.Zero, ErrInvalidCredentials
		}
		return "", money.Zero, fmt.Errorf("account: login lookup: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", money.Zero, ErrInvalidCredentials
	}
	return userID, balance, nil
}

// Balance returns a user's current balance.
func (a *Account) Balance(ctx context.Context, userID string) (money.Amount, error) {
	var balance money.Amount
	err := a.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Zero, errors.New("account: user not found")
		}
		return money.Zero, fmt.Errorf("account: balance: %w", err)
	}
	return balance, nil
}
