package models

type Transaction struct {
	ID        string  `bson:"id" json:"id"`
	StockID   string  `bson:"stockId" json:"stockId"`
	StockName string  `bson:"stockName" json:"stockName"`
	Type      Side    `bson:"type" json:"type"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Price     float64 `bson:"price" json:"price"`
	Margin    float64 `bson:"margin" json:"margin"`
	Timestamp int64   `bson:"timestamp" json:"timestamp"`
	Total     float64 `bson:"total" json:"total"`
	OrderID   string  `bson:"orderId,omitempty" json:"orderId,omitempty"`
}

// User is the single trading account.
type User struct {
	Balance        float64          `bson:"balance" json:"balance"`
	Holdings       []Holding        `bson:"holdings" json:"holdings"`
	HoldingHistory []HoldingHistory `bson:"holdingHistory" json:"holdingHistory"`
	Orders         []Order          `bson:"orders" json:"orders"`
	Transactions   []Transaction    `bson:"transactions" json:"transactions"`
}

// NewUser returns an empty account funded with balance.
func NewUser(balance float64) User {
	return User{
		Balance:        balance,
		Holdings:       []Holding{},
		HoldingHistory: []HoldingHistory{},
		Orders:         []Order{},
		Transactions:   []Transaction{},
	}
}

// State is everything the persistence collaborator loads at startup.
// A nil slice means the store had nothing saved for it.
type State struct {
	Stocks        []Stock        `json:"stocks"`
	User          *User          `json:"user"`
	Notifications []Notification `json:"notifications"`
	Settings      *Settings      `json:"settings"`
}
