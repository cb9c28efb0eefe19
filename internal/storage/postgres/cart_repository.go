package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

type cartRepository struct {
	store *Store
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
// Каждая мутация блокирует строку carts пользователя, поэтому она
// сериализуется с оформлением заказа того же пользователя.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{store: store}
}

func (r *cartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return loadCart(ctx, r.store.DB(), userID)
}

func (r *cartRepository) AddItem(ctx context.Context, userID string, item domain.CartItem) (domain.Cart, error) {
	if !domain.ValidItemQuantity(item.Quantity) {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var cart domain.Cart
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockCart(ctx, tx, userID); err != nil {
			return err
		}
		// Слияние сверх MaxItemQuantity не обновляет строку.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (id, user_id, product_id, quantity, added_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (user_id, product_id)
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
			WHERE cart_items.quantity + EXCLUDED.quantity <= $6
		`, item.ID, userID, item.ProductID, item.Quantity, item.AddedAt, domain.MaxItemQuantity)
		if err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for cart item upsert: %w", err)
		}
		if affected == 0 {
			return domain.ErrInvalidQuantity
		}
		if err := touchCart(ctx, tx, userID); err != nil {
			return err
		}
		cart, err = loadCart(ctx, tx, userID)
		return err
	})
	return cart, err
}

func (r *cartRepository) RemoveItem(ctx context.Context, userID, itemID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var cart domain.Cart
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockCart(ctx, tx, userID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`, itemID, userID)
		if err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for cart item delete: %w", err)
		}
		if affected == 0 {
			return domain.ErrCartItemNotFound
		}
		if err := touchCart(ctx, tx, userID); err != nil {
			return err
		}
		cart, err = loadCart(ctx, tx, userID)
		return err
	})
	return cart, err
}

func (r *cartRepository) Clear(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockCart(ctx, tx, userID); err != nil {
			return err
		}
		return clearCart(ctx, tx, userID)
	})
}

// lockCart создаёт строку корзины при необходимости и берёт на неё FOR UPDATE.
func lockCart(ctx context.Context, q querier, userID string) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO carts (user_id, updated_at) VALUES ($1, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return classify(fmt.Errorf("ensure cart: %w", err))
	}
	var locked string
	if err := q.QueryRowContext(ctx, `SELECT user_id FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&locked); err != nil {
		return classify(fmt.Errorf("lock cart: %w", err))
	}
	return nil
}

func touchCart(ctx context.Context, q querier, userID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE user_id = $1`, userID); err != nil {
		return classify(fmt.Errorf("touch cart: %w", err))
	}
	return nil
}

func clearCart(ctx context.Context, q querier, userID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return classify(fmt.Errorf("clear cart: %w", err))
	}
	return touchCart(ctx, q, userID)
}

// loadCart читает корзину в порядке добавления позиций.
func loadCart(ctx context.Context, q querier, userID string) (domain.Cart, error) {
	cart := domain.Cart{UserID: userID, Items: []domain.CartItem{}}

	var updatedAt sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT updated_at FROM carts WHERE user_id = $1`, userID).Scan(&updatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, classify(fmt.Errorf("load cart: %w", err))
	}
	if updatedAt.Valid {
		cart.UpdatedAt = updatedAt.Time.UTC()
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, quantity, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY position
	`, userID)
	if err != nil {
		return domain.Cart{}, classify(fmt.Errorf("load cart items: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
			return domain.Cart{}, classify(fmt.Errorf("scan cart item: %w", err))
		}
		item.AddedAt = item.AddedAt.UTC()
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, classify(fmt.Errorf("iterate cart items: %w", err))
	}
	return cart, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
