package syncer

import (
	"sort"

	"github.com/quickreach/backend/internal/backend"
	"github.com/quickreach/backend/internal/models"
)

// RequestView is a delivery request with its display fields derived.
type RequestView struct {
	models.DeliveryRequest
	Urgency      models.UrgencyTier `json:"urgency"`
	UrgencyColor string             `json:"urgencyColor"`
	StatusColor  string             `json:"statusColor"`
}

// NewRequestView derives the display fields for req.
func NewRequestView(req models.DeliveryRequest) RequestView {
	tier := req.Urgency()
	return RequestView{
		DeliveryRequest: req,
		Urgency:         tier,
		UrgencyColor:    tier.Color(),
		StatusColor:     req.Status.Color(),
	}
}

// Detail is one emission of a detail subscription. NotFound covers missing,
// deleted and not-owned documents alike.
type Detail struct {
	Request  RequestView
	NotFound bool
}

func detailFrom(snap backend.Snapshot) Detail {
	if !snap.Exists {
		return Detail{NotFound: true}
	}
	return Detail{Request: NewRequestView(snap.Request)}
}

// listViews returns the views ordered by CreatedAt descending, ties broken by
// ID ascending, independent of the order the backend delivered them in.
func listViews(list []models.DeliveryRequest) []RequestView {
	views := make([]RequestView, 0, len(list))
	for _, req := range list {
		views = append(views, NewRequestView(req))
	}
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return views
}
