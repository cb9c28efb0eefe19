package domain

import "time"

// Product — товар каталога. Остаток (Quantity) принадлежит журналу остатков,
// остальные поля для движка неизменяемы. Цена хранится в минимальных
// денежных единицах.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	Currency   string
	Quantity   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate проверяет поля товара и возвращает список замечаний.
func (p *Product) Validate() []error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrProductPriceNeg)
	}
	if p.Quantity < 0 {
		errs = append(errs, ErrProductQtyNeg)
	}
	return errs
}

// Role — роль пользователя, выданная внешним identity-сервисом.
type Role string

const (
	RoleRegular Role = ""
	RoleAdmin   Role = "ADMIN"
)

// Principal — аутентифицированный пользователь. Роль используется только
// для доступа к изменению каталога и никогда не обходит проверки остатков.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin сообщает, может ли пользователь менять каталог.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Page — страница результатов с общим количеством страниц.
type Page[T any] struct {
	Items      []T
	Page       int
	Size       int
	TotalItems int
	TotalPages int
}

// NewPage считает количество страниц по общему числу элементов.
func NewPage[T any](items []T, page, size, total int) Page[T] {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		Page:       page,
		Size:       size,
		TotalItems: total,
		TotalPages: pages,
	}
}

// Ограничения размера страницы.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage приводит номер и размер страницы к допустимым значениям
// и возвращает смещение. Страницы нумеруются с 1.
func NormalizePage(page, size int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size, (page - 1) * size
}
