package model

import "time"

// Category represents a spending category a rule can assign.
type Category struct {
	CreatedAt time.Time
	Name      string
	ID        int64
}

// Account is a counterparty account a rule can attach to a transaction.
type Account struct {
	CreatedAt time.Time
	Name      string
	ID        int64
}
