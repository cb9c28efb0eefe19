// Package availability сверяет корзину с остатками журнала.
package availability

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

// Evaluate выносит вердикт по каждой позиции корзины. Функция чистая:
// одна и та же проверка работает и по снимку без блокировок, и по
// заблокированным строкам внутри транзакции оформления.
// Граница включительная: количество, равное остатку, допустимо.
func Evaluate(cart domain.Cart, snapshot domain.LedgerSnapshot) []domain.LineVerdict {
	verdicts := make([]domain.LineVerdict, 0, len(cart.Items))
	for _, item := range cart.Items {
		verdict := domain.LineVerdict{
			CartItemID: item.ID,
			ProductID:  item.ProductID,
			Requested:  item.Quantity,
		}
		available, ok := snapshot[item.ProductID]
		switch {
		case !ok:
			verdict.Kind = domain.VerdictRemoved
		case item.Quantity <= available:
			verdict.Available = available
			verdict.Kind = domain.VerdictOK
		default:
			verdict.Available = available
			verdict.Kind = domain.VerdictInsufficient
		}
		verdicts = append(verdicts, verdict)
	}
	return verdicts
}

// Failing оставляет только позиции, которые нельзя списать.
func Failing(verdicts []domain.LineVerdict) []domain.LineVerdict {
	var failing []domain.LineVerdict
	for _, v := range verdicts {
		if !v.OK() {
			failing = append(failing, v)
		}
	}
	return failing
}

// SnapshotOf строит снимок остатков из заблокированных товаров.
func SnapshotOf(products map[string]domain.Product) domain.LedgerSnapshot {
	snapshot := make(domain.LedgerSnapshot, len(products))
	for id, p := range products {
		snapshot[id] = p.Quantity
	}
	return snapshot
}

// Service отдаёт подсказки о доступности для отображения корзины.
type Service struct {
	carts  domain.CartRepository
	ledger domain.StockLedger
	logger *log.Entry
}

// NewService создаёт сервис подсказок.
func NewService(carts domain.CartRepository, ledger domain.StockLedger, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "availability")
	}
	return &Service{carts: carts, ledger: ledger, logger: logger}
}

// Advise сверяет корзину пользователя с текущими остатками без блокировок.
// Результат носит рекомендательный характер и может устареть к моменту оформления.
func (s *Service) Advise(ctx context.Context, userID string) ([]domain.LineVerdict, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.IsEmpty() {
		return []domain.LineVerdict{}, nil
	}
	snapshot, err := s.ledger.Snapshot(ctx, cart.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("ledger snapshot: %w", err)
	}
	verdicts := Evaluate(cart, snapshot)
	if failing := Failing(verdicts); len(failing) > 0 {
		s.logger.WithFields(log.Fields{
			"user_id": userID,
			"failing": len(failing),
		}).Debug("cart has lines that cannot be fulfilled")
	}
	return verdicts, nil
}
