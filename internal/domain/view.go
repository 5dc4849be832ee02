package domain

import "time"

// OrderView is the customer facing projection of an order. It never
// carries internal error details or payment identifiers.
type OrderView struct {
	ID         int64     `json:"order_id"`
	Status     Status    `json:"status"`
	StatusText string    `json:"status_text"`
	Topic      string    `json:"topic"`
	WordCount  int       `json:"word_count"`
	Price      int64     `json:"price"`
	Content    string    `json:"content,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewOrderView projects an order, content is only exposed once complete.
func NewOrderView(o *Order) OrderView {
	v := OrderView{
		ID:         o.ID,
		Status:     o.Status,
		StatusText: o.Status.CustomerText(),
		Topic:      o.Topic,
		WordCount:  o.WordCount,
		Price:      o.Price,
		CreatedAt:  o.CreatedAt,
	}
	if o.Status == StatusComplete && o.Content != nil {
		v.Content = *o.Content
	}
	return v
}
