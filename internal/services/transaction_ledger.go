package services

import (
	"time"

	"trading-engine/internal/models"
)

// TransactionLedger is the append-only record of executed fills. Entries
// survive stock deletion and are never edited.
type TransactionLedger struct {
	transactions []models.Transaction
	clock        func() time.Time
}

func NewTransactionLedger(clock func() time.Time) *TransactionLedger {
	if clock == nil {
		clock = time.Now
	}
	return &TransactionLedger{clock: clock}
}

func (l *TransactionLedger) Load(transactions []models.Transaction) {
	l.transactions = append([]models.Transaction{}, transactions...)
}

// Record appends one fill and returns it.
func (l *TransactionLedger) Record(stock *models.Stock, side models.Side, quantity int, price, margin float64, orderID string) models.Transaction {
	tx := models.Transaction{
		ID:        models.NewID(),
		StockID:   stock.ID,
		StockName: stock.Name,
		Type:      side,
		Quantity:  quantity,
		Price:     price,
		Margin:    margin,
		Timestamp: models.Millis(l.clock()),
		Total:     price * float64(quantity),
		OrderID:   orderID,
	}
	l.transactions = append(l.transactions, tx)
	return tx
}

func (l *TransactionLedger) Transactions() []models.Transaction {
	return append([]models.Transaction{}, l.transactions...)
}

func (l *TransactionLedger) Len() int {
	return len(l.transactions)
}

// Reset is only used when the whole account is reset.
func (l *TransactionLedger) Reset() {
	l.transactions = nil
}
