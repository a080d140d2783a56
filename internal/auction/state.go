package auction

import "github.com/safar/go-auction-engine/internal/models"

var transitions = map[models.ItemStatus][]models.ItemStatus{
	models.ItemStatusOnSale:       {models.ItemStatusAuctionEnded, models.ItemStatusFailed, models.ItemStatusDeleted},
	models.ItemStatusAuctionEnded: {models.ItemStatusSoldOut, models.ItemStatusExpired, models.ItemStatusDeleted},
}

// CanTransition reports whether the state machine has an edge from -> to.
// Terminal statuses have no outgoing edges, so no transition ever goes back.
func CanTransition(from, to models.ItemStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
