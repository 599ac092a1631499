package domain

import "time"

const (
	ItemStatusListed = "listed"
	ItemStatusSold   = "sold"
)

// Item is a marketplace listing. Only the fields the follow-up sweep reads are modelled.
type Item struct {
	ItemID           string     `json:"id" dynamodbav:"item_id"`
	SellerID         string     `json:"seller_id" dynamodbav:"seller_id"`
	BuyerID          string     `json:"buyer_id" dynamodbav:"buyer_id"`
	Title            string     `json:"title" dynamodbav:"title"`
	Status           string     `json:"status" dynamodbav:"status"`
	SoldAt           *time.Time `json:"sold_at,omitempty" dynamodbav:"sold_at,omitempty"`
	ReceiptConfirmed bool       `json:"receipt_confirmed" dynamodbav:"receipt_confirmed"`
	FollowupSent     bool       `json:"followup_sent" dynamodbav:"followup_sent"`
}
