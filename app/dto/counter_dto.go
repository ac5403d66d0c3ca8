package dto

// SetCounterRequest overwrites the next counter value of a collection
type SetCounterRequest struct {
	Next int64 `json:"next" validate:"required,gte=1"`
}

// NextIDResponse carries one allocated identifier
type NextIDResponse struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}
