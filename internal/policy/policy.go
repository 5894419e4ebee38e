// Package policy decides which marketplace role may perform which offer
// action. It carries no business invariants: the engine still enforces
// status and lock rules independently, so a policy bug can widen visibility
// but never corrupt an accepted offer.
package policy

import (
	"github.com/maelstrand/winetrade/internal/auth"
	"github.com/maelstrand/winetrade/internal/models"
)

// Action describes the kind of operation an actor wants to perform.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionSend   Action = "send"
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// OfferPolicy checks an actor against an offer. Suppliers edit and send
// their own offers; the addressed restaurant accepts or rejects; both
// parties (and importers-of-record through their restaurant relation) view.
type OfferPolicy struct{}

func NewOfferPolicy() *OfferPolicy { return &OfferPolicy{} }

// Can reports whether the action is allowed. For create/list (offer nil)
// only the role is checked; the store scopes queries by tenant anyway.
func (p *OfferPolicy) Can(actor auth.Actor, action Action, offer *models.Offer) bool {
	switch action {
	case ActionEdit, ActionSend:
		if actor.CompanyKind != models.CompanySupplier {
			return false
		}
		return offer == nil || offer.SupplierID == actor.CompanyID
	case ActionAccept, ActionReject:
		if actor.CompanyKind != models.CompanyRestaurant {
			return false
		}
		return offer == nil || offer.RestaurantID == actor.CompanyID
	case ActionView:
		if offer == nil {
			return actor.CompanyID != 0
		}
		return offer.SupplierID == actor.CompanyID || offer.RestaurantID == actor.CompanyID
	}
	return false
}
