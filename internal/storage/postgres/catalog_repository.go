package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

const productColumns = `id, name, price_minor, currency, quantity, created_at, updated_at`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{db: store.DB()}
}

func (r *catalogRepository) List(ctx context.Context, search string, offset, limit int) ([]domain.Product, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(search)) + "%"

	var total int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM products WHERE name ILIKE $1
	`, pattern).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("count products: %w", err))
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = total
	}
	if total == 0 || offset >= total {
		return []domain.Product{}, total, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE name ILIKE $1
		ORDER BY name, id
		OFFSET $2 LIMIT $3
	`, pattern, offset, limit)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list products: %w", err))
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(fmt.Errorf("iterate products: %w", err))
	}
	return products, total, nil
}

func (r *catalogRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	return scanProductRow(row)
}

func (r *catalogRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, price_minor, currency, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		RETURNING `+productColumns,
		product.ID, product.Name, product.PriceMinor, product.Currency, product.Quantity, now,
	)
	created, err := scanProductRow(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrProductAlreadyExists
		}
		return domain.Product{}, err
	}
	return created, nil
}

func (r *catalogRepository) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, price_minor = $3, currency = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.PriceMinor, product.Currency,
	)
	return scanProductRow(row)
}

// Restock отклоняет уменьшение ниже нуля тем же условным UPDATE, что и списание.
func (r *catalogRepository) Restock(ctx context.Context, productID string, delta int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING `+productColumns,
		productID, delta,
	)
	product, err := scanProductRow(row)
	if errors.Is(err, domain.ErrProductNotFound) {
		if exists, existsErr := productExists(ctx, r.db, productID); existsErr == nil && exists {
			return domain.Product{}, domain.ErrInsufficientStock
		}
	}
	return product, err
}

func (r *catalogRepository) Delete(ctx context.Context, productID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return classify(fmt.Errorf("delete product: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for product delete: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.PriceMinor, &p.Currency, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, classify(fmt.Errorf("scan product: %w", err))
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanProductRow(row *sql.Row) (domain.Product, error) {
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, err
}

func productExists(ctx context.Context, q querier, productID string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return false, classify(fmt.Errorf("check product exists: %w", err))
	}
	return exists, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
