package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/subshare/internal/model"
)

// PostgresPaymentMethodRepo はPostgreSQLを使用した支払い方法リポジトリ。
// デフォルトの付け替えは1トランザクション内で行い、部分ユニークインデックスで
// ユーザーごとのデフォルトを高々1件に保つ。
type PostgresPaymentMethodRepo struct {
	db *sql.DB
}

// NewPostgresPaymentMethodRepo はPostgresPaymentMethodRepoを生成する。
func NewPostgresPaymentMethodRepo(db *sql.DB) *PostgresPaymentMethodRepo {
	return &PostgresPaymentMethodRepo{db: db}
}

const paymentMethodColumns = `id, user_id, brand, last4, exp_month, exp_year, is_default, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentMethod(row rowScanner) (*model.PaymentMethod, error) {
	pm := &model.PaymentMethod{}
	if err := row.Scan(&pm.ID, &pm.UserID, &pm.Brand, &pm.Last4, &pm.ExpMonth, &pm.ExpYear, &pm.IsDefault, &pm.CreatedAt); err != nil {
		return nil, err
	}
	return pm, nil
}

// ListByUserID はユーザーの支払い方法を作成日時の新しい順に返す。
func (r *PostgresPaymentMethodRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PaymentMethod, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentMethodColumns+`
		 FROM payment_methods
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	defer rows.Close()

	var methods []*model.PaymentMethod
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment methods: %w", err)
	}
	return methods, nil
}

// FindByID は指定ユーザーの支払い方法を取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentMethodRepo) FindByID(ctx context.Context, userID, id string) (*model.PaymentMethod, error) {
	pm, err := scanPaymentMethod(r.db.QueryRowContext(ctx,
		`SELECT `+paymentMethodColumns+` FROM payment_methods WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment method: %w", err)
	}
	return pm, nil
}

// Create は支払い方法を追加する。ユーザーの最初の支払い方法はデフォルトになる。
// pm.IsDefaultには実際に保存された値が反映される。
func (r *PostgresPaymentMethodRepo) Create(ctx context.Context, pm *model.PaymentMethod) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 同一ユーザーの並行追加を直列化する
	if _, err := tx.ExecContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, pm.UserID); err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM payment_methods WHERE user_id = $1`, pm.UserID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to count payment methods: %w", err)
	}

	makeDefault := count == 0 || pm.IsDefault
	if makeDefault && count > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE payment_methods SET is_default = false WHERE user_id = $1 AND is_default`, pm.UserID,
		); err != nil {
			return fmt.Errorf("failed to clear default payment method: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payment_methods (id, user_id, brand, last4, exp_month, exp_year, is_default, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pm.ID, pm.UserID, pm.Brand, pm.Last4, pm.ExpMonth, pm.ExpYear, makeDefault, pm.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert payment method: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	pm.IsDefault = makeDefault
	return nil
}

// Delete は支払い方法を削除する。
// デフォルトを削除した場合は残りのうち最も新しいものをデフォルトに昇格する。
func (r *PostgresPaymentMethodRepo) Delete(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var wasDefault bool
	err = tx.QueryRowContext(ctx,
		`DELETE FROM payment_methods WHERE id = $1 AND user_id = $2 RETURNING is_default`,
		id, userID,
	).Scan(&wasDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("payment method %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete payment method: %w", err)
	}

	if wasDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE payment_methods SET is_default = true
			 WHERE id = (
			     SELECT id FROM payment_methods
			     WHERE user_id = $1
			     ORDER BY created_at DESC, id
			     LIMIT 1
			 )`,
			userID,
		); err != nil {
			return fmt.Errorf("failed to promote payment method: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetDefault は指定の支払い方法をデフォルトにし、他のデフォルトを解除する。
func (r *PostgresPaymentMethodRepo) SetDefault(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_methods WHERE id = $1 AND user_id = $2)`, id, userID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check payment method: %w", err)
	}
	if !exists {
		return fmt.Errorf("payment method %s: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE payment_methods SET is_default = false WHERE user_id = $1 AND is_default AND id <> $2`,
		userID, id,
	); err != nil {
		return fmt.Errorf("failed to clear default payment method: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE payment_methods SET is_default = true WHERE id = $1 AND user_id = $2`,
		id, userID,
	); err != nil {
		return fmt.Errorf("failed to set default payment method: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PaymentMethodRepository = (*PostgresPaymentMethodRepo)(nil)
