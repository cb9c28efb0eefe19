package domain

import (
	"sort"
	"time"
)

// MaxItemQuantity ограничивает количество одной позиции корзины, в том числе
// после слияния. Сумма двух допустимых количеств не переполняет int64.
const MaxItemQuantity int64 = 1_000_000

// ValidItemQuantity сообщает, что количество лежит в [1, MaxItemQuantity].
func ValidItemQuantity(quantity int64) bool {
	return quantity >= 1 && quantity <= MaxItemQuantity
}

// CartItem — желаемое количество товара. Не является резервом.
type CartItem struct {
	ID        string
	ProductID string
	Quantity  int64
	AddedAt   time.Time
}

// Cart принадлежит одному пользователю; позиции хранятся в порядке добавления.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone возвращает копию корзины, не разделяющую слайс позиций.
func (c Cart) Clone() Cart {
	dst := c
	dst.Items = append([]CartItem(nil), c.Items...)
	return dst
}

// Merge добавляет позицию: если товар уже есть, количества суммируются
// и сохраняется ID существующей позиции. Если итог выходит за
// MaxItemQuantity, корзина не меняется и возвращается ErrInvalidQuantity.
func (c *Cart) Merge(item CartItem) (CartItem, error) {
	if !ValidItemQuantity(item.Quantity) {
		return CartItem{}, ErrInvalidQuantity
	}
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			merged := c.Items[i].Quantity + item.Quantity
			if !ValidItemQuantity(merged) {
				return CartItem{}, ErrInvalidQuantity
			}
			c.Items[i].Quantity = merged
			return c.Items[i], nil
		}
	}
	c.Items = append(c.Items, item)
	return item, nil
}

// Remove удаляет позицию по ID.
func (c *Cart) Remove(itemID string) bool {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// ProductIDs возвращает уникальные ID товаров корзины по возрастанию.
// Этот порядок используется для блокировок при оформлении.
func (c Cart) ProductIDs() []string {
	seen := make(map[string]struct{}, len(c.Items))
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Strings(ids)
	return ids
}

// SortedItems возвращает позиции, упорядоченные по ID товара.
func (c Cart) SortedItems() []CartItem {
	items := append([]CartItem(nil), c.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ProductID < items[j].ProductID
	})
	return items
}
