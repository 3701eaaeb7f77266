// Package billing holds the purchasable plan catalog, the payment-gateway
// client, and the upgrade flow that converts a verified payment into a
// ledger grant.
package billing

import (
	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/store"
)

// Offer is one purchasable plan. Prices are in minor units of the
// configured currency (paise for INR).
type Offer struct {
	ID              string         `json:"id"`
	Tier            store.PlanTier `json:"tier"`
	PriceMinorUnits int64          `json:"price_minor_units"`
	GrantSeconds    int            `json:"grant_seconds"`
	CallsIncluded   int            `json:"calls_included"`
	MinutesIncluded int            `json:"minutes_included"`
	Description     string         `json:"description"`
}

// Catalog is an ordered set of offers with ID lookup.
type Catalog struct {
	offers []Offer
	byID   map[string]Offer
}

// DefaultOffers is the built-in catalog, used when the config supplies none.
func DefaultOffers() []Offer {
	return []Offer{
		{
			ID:              "basic",
			Tier:            store.TierBasic,
			PriceMinorUnits: 24900,
			GrantSeconds:    2400,
			CallsIncluded:   8,
			MinutesIncluded: 40,
			Description:     "40 minutes of talk time",
		},
		{
			ID:              "pro",
			Tier:            store.TierPro,
			PriceMinorUnits: 115000,
			GrantSeconds:    12000,
			CallsIncluded:   40,
			MinutesIncluded: 200,
			Description:     "200 minutes of talk time",
		},
		{
			ID:              "premium",
			Tier:            store.TierPremium,
			PriceMinorUnits: 225000,
			GrantSeconds:    24000,
			CallsIncluded:   80,
			MinutesIncluded: 400,
			Description:     "400 minutes of talk time",
		},
	}
}

// NewCatalog builds the catalog from config overrides, falling back to the
// built-in offers when none are configured.
func NewCatalog(overrides []config.OfferConfig) *Catalog {
	offers := DefaultOffers()
	if len(overrides) > 0 {
		offers = make([]Offer, 0, len(overrides))
		for _, o := range overrides {
			offers = append(offers, Offer{
				ID:              o.ID,
				Tier:            store.ParseTier(o.Tier),
				PriceMinorUnits: o.PriceMinorUnits,
				GrantSeconds:    o.GrantSeconds,
				CallsIncluded:   o.CallsIncluded,
				MinutesIncluded: o.MinutesIncluded,
				Description:     o.Description,
			})
		}
	}

	byID := make(map[string]Offer, len(offers))
	for _, o := range offers {
		byID[o.ID] = o
	}
	return &Catalog{offers: offers, byID: byID}
}

// Offers returns the catalog in display order.
func (c *Catalog) Offers() []Offer {
	out := make([]Offer, len(c.offers))
	copy(out, c.offers)
	return out
}

// Lookup returns the offer with the given ID.
func (c *Catalog) Lookup(id string) (Offer, bool) {
	o, ok := c.byID[id]
	return o, ok
}
