package repository

import (
	"context"
	"database/sql"
)

// TokenRepo persists the single active refresh token hash of an account
// (accounts.refresh_token_hash).  Storing a new hash replaces the old one,
// so at most one refresh token is valid per account.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh overwrites the account's refresh hash.  sql.ErrNoRows when
// the account does not exist.
func (r *TokenRepo) StoreRefresh(ctx context.Context, accountID, tokenHash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET refresh_token_hash=?, updated_at=? WHERE id=?",
		tokenHash, toMillis(now()), accountID)
	return affectedOne(res, err)
}

// SwapRefresh replaces oldHash with newHash only when oldHash is still the
// stored value.  It reports false when another request rotated or revoked
// the token first.
func (r *TokenRepo) SwapRefresh(ctx context.Context, accountID, oldHash, newHash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET refresh_token_hash=?, updated_at=? WHERE id=? AND refresh_token_hash=?",
		newHash, toMillis(now()), accountID, oldHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeForAccount clears the stored hash.  Clearing an already empty hash
// is not an error.
func (r *TokenRepo) RevokeForAccount(ctx context.Context, accountID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET refresh_token_hash=NULL, updated_at=? WHERE id=?",
		toMillis(now()), accountID)
	return err
}
