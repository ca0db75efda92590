package models

import (
	"fmt"
	"strings"
	"time"
)

// User represents an account within the QuickReach platform.
type User struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Status tracks where a delivery request is in its lifecycle.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusAccepted  Status = "Accepted"
	StatusOnTheWay  Status = "On the Way"
	StatusCompleted Status = "Completed"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{StatusPending, StatusAccepted, StatusOnTheWay, StatusCompleted}

// Valid reports whether s is one of the fixed statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusOnTheWay, StatusCompleted:
		return true
	}
	return false
}

// Color returns the badge colour used when rendering the status.
// Unknown statuses render like Pending.
func (s Status) Color() string {
	switch s {
	case StatusAccepted:
		return "#2563EB"
	case StatusOnTheWay:
		return "#F59E0B"
	case StatusCompleted:
		return "#10B981"
	default:
		return "#9CA3AF"
	}
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(strings.ReplaceAll(trimmed, " ", ""), "OnTheWay") {
		return StatusOnTheWay, nil
	}
	for _, s := range Statuses {
		if strings.EqualFold(trimmed, string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// DeliveryRequest is a single delivery ordered by a user.
type DeliveryRequest struct {
	ID              string    `json:"id"`
	ItemName        string    `json:"itemName"`
	Category        string    `json:"category"`
	PickupLocation  string    `json:"pickupLocation"`
	DropoffLocation string    `json:"dropoffLocation"`
	Instructions    string    `json:"instructions"`
	Price           float64   `json:"price"`
	Priority        int       `json:"priority"`
	Status          Status    `json:"status"`
	OwnerID         string    `json:"ownerId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// RequestPatch carries a partial update. Nil fields are left untouched.
type RequestPatch struct {
	ItemName        *string  `json:"itemName,omitempty"`
	Category        *string  `json:"category,omitempty"`
	PickupLocation  *string  `json:"pickupLocation,omitempty"`
	DropoffLocation *string  `json:"dropoffLocation,omitempty"`
	Instructions    *string  `json:"instructions,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Priority        *int     `json:"priority,omitempty"`
	Status          *Status  `json:"status,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p RequestPatch) Empty() bool {
	return p.ItemName == nil && p.Category == nil && p.PickupLocation == nil &&
		p.DropoffLocation == nil && p.Instructions == nil && p.Price == nil &&
		p.Priority == nil && p.Status == nil
}

// Apply returns a copy of req with the patch applied.
func (p RequestPatch) Apply(req DeliveryRequest) DeliveryRequest {
	if p.ItemName != nil {
		req.ItemName = *p.ItemName
	}
	if p.Category != nil {
		req.Category = *p.Category
	}
	if p.PickupLocation != nil {
		req.PickupLocation = *p.PickupLocation
	}
	if p.DropoffLocation != nil {
		req.DropoffLocation = *p.DropoffLocation
	}
	if p.Instructions != nil {
		req.Instructions = *p.Instructions
	}
	if p.Price != nil {
		req.Price = *p.Price
	}
	if p.Priority != nil {
		req.Priority = *p.Priority
	}
	if p.Status != nil {
		req.Status = *p.Status
	}
	return req
}
