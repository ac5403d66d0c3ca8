package dto

import "github.com/amirphl/Kura/models"

// CountResponse is the result of a count request
type CountResponse struct {
	Collection string `json:"collection"`
	Count      int64  `json:"count"`
}

// BatchCreateResponse lists the documents stored by a batch insert
type BatchCreateResponse struct {
	Inserted int              `json:"inserted"`
	Items    []models.Document `json:"items"`
}
