package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

type stockLedger struct {
	db *sql.DB
}

// NewLedger создаёт журнал остатков поверх таблицы products.
func NewLedger(store *Store) domain.StockLedger {
	return &stockLedger{db: store.DB()}
}

func (l *stockLedger) Get(ctx context.Context, productID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var qty int64
	err := l.db.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, classify(fmt.Errorf("get stock: %w", err))
	}
	return qty, nil
}

func (l *stockLedger) TryDecrement(ctx context.Context, productID string, amount int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return tryDecrement(ctx, l.db, productID, amount)
}

func (l *stockLedger) Snapshot(ctx context.Context, productIDs []string) (domain.LedgerSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	snapshot := make(domain.LedgerSnapshot, len(productIDs))
	if len(productIDs) == 0 {
		return snapshot, nil
	}

	rows, err := l.db.QueryContext(ctx, `SELECT id, quantity FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, classify(fmt.Errorf("snapshot stock: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			qty int64
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, classify(fmt.Errorf("scan stock: %w", err))
		}
		snapshot[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate stock: %w", err))
	}
	return snapshot, nil
}

// tryDecrement списывает остаток одним условным UPDATE: чтение и запись
// выполняются атомарно внутри PostgreSQL.
func tryDecrement(ctx context.Context, q querier, productID string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidQuantity
	}
	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
	`, productID, amount)
	if err != nil {
		return classify(fmt.Errorf("decrement stock: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for stock decrement: %w", err)
	}
	if affected == 1 {
		return nil
	}

	exists, err := productExists(ctx, q, productID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrInsufficientStock
}

var _ domain.StockLedger = (*stockLedger)(nil)
