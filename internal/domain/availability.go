package domain

// VerdictKind — результат проверки одной позиции корзины.
type VerdictKind string

const (
	VerdictOK           VerdictKind = "OK"
	VerdictInsufficient VerdictKind = "INSUFFICIENT"
	VerdictRemoved      VerdictKind = "REMOVED"
)

// LineVerdict — вердикт по позиции корзины против снимка остатков.
type LineVerdict struct {
	CartItemID string
	ProductID  string
	Requested  int64
	// Available — остаток на момент снимка; для REMOVED всегда 0.
	Available int64
	Kind      VerdictKind
}

// OK сообщает, что позицию можно списать.
func (v LineVerdict) OK() bool {
	return v.Kind == VerdictOK
}

// LedgerSnapshot — остатки по ID товара. Отсутствие ключа означает,
// что товара больше нет в каталоге.
type LedgerSnapshot map[string]int64
