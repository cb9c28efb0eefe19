package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

const defaultLockTimeout = 2 * time.Second

var errLockOrder = errors.New("postgres: lock order violated")

// UnitOfWorkOption настраивает unit of work.
type UnitOfWorkOption func(*unitOfWork)

// WithLockTimeout ограничивает ожидание строковых блокировок внутри транзакции.
// Превышение даёт код 55P03, который классифицируется как временная ошибка.
func WithLockTimeout(timeout time.Duration) UnitOfWorkOption {
	return func(u *unitOfWork) {
		u.lockTimeout = timeout
	}
}

type unitOfWork struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewUnitOfWork создаёт транзакционный unit of work оформления заказа.
func NewUnitOfWork(store *Store, opts ...UnitOfWorkOption) domain.UnitOfWork {
	u := &unitOfWork{db: store.DB(), lockTimeout: defaultLockTimeout}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *unitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.CheckoutTx) error) error {
	sqlTx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin checkout tx: %w", err))
	}
	rollback := func() { _ = sqlTx.Rollback() }

	if u.lockTimeout > 0 {
		// SET LOCAL не принимает параметры, значение подставляется из конфигурации.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", u.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			rollback()
			return classify(fmt.Errorf("set lock timeout: %w", err))
		}
	}

	tx := &checkoutTx{tx: sqlTx}
	if err := fn(ctx, tx); err != nil {
		rollback()
		return classify(err)
	}
	if err := ctx.Err(); err != nil {
		rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit checkout tx: %w", err))
	}
	return nil
}

type checkoutTx struct {
	tx             *sql.Tx
	cartUser       string
	productsLocked bool
	locked         map[string]bool
}

func (t *checkoutTx) LoadCartForUpdate(ctx context.Context, userID string) (domain.Cart, error) {
	if t.productsLocked {
		return domain.Cart{}, fmt.Errorf("%w: cart must be locked before products", errLockOrder)
	}
	if err := lockCart(ctx, t.tx, userID); err != nil {
		return domain.Cart{}, err
	}
	t.cartUser = userID
	return loadCart(ctx, t.tx, userID)
}

// LockProducts берёт FOR UPDATE в бинарном порядке ID, совпадающем с sort.Strings.
func (t *checkoutTx) LockProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if t.productsLocked {
		return nil, fmt.Errorf("%w: products are locked once per transaction", errLockOrder)
	}
	t.productsLocked = true

	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)
	t.locked = make(map[string]bool, len(ids))
	for _, id := range ids {
		t.locked[id] = true
	}
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id COLLATE "C"
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, classify(fmt.Errorf("lock products: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate locked products: %w", err))
	}
	return result, nil
}

func (t *checkoutTx) TryDecrement(ctx context.Context, productID string, amount int64) error {
	if !t.locked[productID] {
		return fmt.Errorf("%w: product %s is not locked", errLockOrder, productID)
	}
	return tryDecrement(ctx, t.tx, productID, amount)
}

func (t *checkoutTx) InsertOrder(ctx context.Context, order domain.Order) error {
	return insertOrder(ctx, t.tx, order)
}

func (t *checkoutTx) ClearCart(ctx context.Context, userID string) error {
	if t.cartUser != userID {
		return fmt.Errorf("%w: cart %s is not locked", errLockOrder, userID)
	}
	return clearCart(ctx, t.tx, userID)
}

func (t *checkoutTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return enqueueOutbox(ctx, t.tx, msg)
}

var _ domain.UnitOfWork = (*unitOfWork)(nil)
