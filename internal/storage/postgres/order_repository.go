package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		order     domain.Order
		statusRaw string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, currency, total_minor, created_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.UserID, &statusRaw, &order.Currency, &order.TotalMinor, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, classify(fmt.Errorf("get order: %w", err))
	}
	order.Status = domain.OrderStatus(statusRaw)
	order.CreatedAt = order.CreatedAt.UTC()

	lines, err := r.loadLines(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines[order.ID]
	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("count orders: %w", err))
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = total
	}
	if total == 0 || offset >= total {
		return []domain.Order{}, total, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, status, currency, total_minor, created_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`, userID, offset, limit)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list orders: %w", err))
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var (
			order     domain.Order
			statusRaw string
		)
		if err := rows.Scan(&order.ID, &order.UserID, &statusRaw, &order.Currency, &order.TotalMinor, &order.CreatedAt); err != nil {
			return nil, 0, classify(fmt.Errorf("scan order: %w", err))
		}
		order.Status = domain.OrderStatus(statusRaw)
		order.CreatedAt = order.CreatedAt.UTC()
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(fmt.Errorf("iterate orders: %w", err))
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, total, nil
}

func (r *orderRepository) loadLines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, unit_price_minor, quantity
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, orderIDs)
	if err != nil {
		return nil, classify(fmt.Errorf("load order lines: %w", err))
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ProductID, &line.Name, &line.UnitPriceMinor, &line.Quantity); err != nil {
			return nil, classify(fmt.Errorf("scan order line: %w", err))
		}
		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate order lines: %w", err))
	}
	return result, nil
}

// insertOrder пишет заказ и его строки; вызывается только внутри транзакции оформления.
func insertOrder(ctx context.Context, q querier, order domain.Order) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, currency, total_minor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, order.ID, order.UserID, string(order.Status), order.Currency, order.TotalMinor, order.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return classify(fmt.Errorf("insert order: %w", err))
	}

	for i, line := range order.Lines {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_no, product_id, name, unit_price_minor, quantity)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, order.ID, i+1, line.ProductID, line.Name, line.UnitPriceMinor, line.Quantity); err != nil {
			return classify(fmt.Errorf("insert order line: %w", err))
		}
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
