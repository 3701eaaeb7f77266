package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxline-ai/voxline/internal/eventbus"
	"github.com/voxline-ai/voxline/internal/store"
)

var (
	// ErrUnknownOffer is returned for an offer or order the handler has no
	// record of.
	ErrUnknownOffer = errors.New("unknown offer")

	// ErrPaidNotCredited means the payment was verified but the ledger
	// grant failed. Money has changed hands; this is a support case, not a
	// retry case, and must never be reported as a payment failure.
	ErrPaidNotCredited = errors.New("payment captured but plan credit failed")
)

// Granter is the slice of the ledger the upgrade flow needs.
type Granter interface {
	GrantPlan(ctx context.Context, userID string, tier store.PlanTier, grantedSeconds int) error
}

// PlanGrantedEvent is published on the bus after a successful upgrade.
type PlanGrantedEvent struct {
	OfferID          string `json:"offer_id"`
	PlanTier         string `json:"plan_tier"`
	GrantedSeconds   int    `json:"granted_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// pendingOrderTTL bounds how long an unfinished checkout is remembered.
// A dismissed or abandoned checkout never calls back, so stale orders are
// swept whenever the pending set is touched.
const pendingOrderTTL = time.Hour

type pendingOrder struct {
	offerID   string
	createdAt time.Time
}

// Upgrader runs the plan purchase flow: create an order, hand it to
// checkout, verify the payment result, then grant the plan.
type Upgrader struct {
	gateway *Gateway
	catalog *Catalog
	ledger  Granter
	bus     *eventbus.Bus
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingOrder // keyed by order ID
}

// NewUpgrader wires the upgrade flow.
func NewUpgrader(gateway *Gateway, catalog *Catalog, ledger Granter, bus *eventbus.Bus, logger *slog.Logger) *Upgrader {
	return &Upgrader{
		gateway: gateway,
		catalog: catalog,
		ledger:  ledger,
		bus:     bus,
		logger:  logger.With("component", "upgrader"),
		pending: make(map[string]pendingOrder),
	}
}

// prunePendingLocked drops orders whose checkout never came back. Caller
// holds u.mu.
func (u *Upgrader) prunePendingLocked(now time.Time) {
	for id, p := range u.pending {
		if now.Sub(p.createdAt) > pendingOrderTTL {
			u.logger.Info("abandoned upgrade order expired", "order_id", id, "offer_id", p.offerID)
			delete(u.pending, id)
		}
	}
}

// CancelUpgrade forgets a pending order whose checkout was dismissed.
func (u *Upgrader) CancelUpgrade(orderID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if p, ok := u.pending[orderID]; ok {
		delete(u.pending, orderID)
		u.logger.Info("upgrade order cancelled", "order_id", orderID, "offer_id", p.offerID)
	}
}

// Offers returns the purchasable catalog.
func (u *Upgrader) Offers() []Offer {
	return u.catalog.Offers()
}

// BeginUpgrade creates a gateway order for the offer and remembers it so
// the payment result can be matched back.
func (u *Upgrader) BeginUpgrade(ctx context.Context, offerID string) (*Order, error) {
	offer, ok := u.catalog.Lookup(offerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOffer, offerID)
	}

	order, err := u.gateway.CreateOrder(ctx, offer.PriceMinorUnits, "voxline-"+offer.ID)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	u.prunePendingLocked(time.Now())
	u.pending[order.ID] = pendingOrder{offerID: offer.ID, createdAt: time.Now()}
	u.mu.Unlock()

	u.logger.Info("upgrade order created", "offer_id", offer.ID, "order_id", order.ID, "amount", order.Amount)
	return order, nil
}

// CompletePayment verifies the checkout result and credits the plan.
// Verification failure returns ErrPaymentFailed; a grant failure after a
// verified payment returns ErrPaidNotCredited.
func (u *Upgrader) CompletePayment(ctx context.Context, userID string, res PaymentResult) (*store.UsageRecord, error) {
	u.mu.Lock()
	u.prunePendingLocked(time.Now())
	p, ok := u.pending[res.OrderID]
	u.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no pending order %s", ErrUnknownOffer, res.OrderID)
	}
	offer, ok := u.catalog.Lookup(p.offerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOffer, p.offerID)
	}

	if err := u.gateway.VerifyPayment(ctx, res); err != nil {
		u.logger.Warn("payment verification failed", "order_id", res.OrderID, "error", err)
		return nil, err
	}

	if err := u.ledger.GrantPlan(ctx, userID, offer.Tier, offer.GrantSeconds); err != nil {
		u.logger.Error("plan grant failed after verified payment",
			"user_id", userID,
			"order_id", res.OrderID,
			"offer_id", offer.ID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: order %s", ErrPaidNotCredited, res.OrderID)
	}

	u.mu.Lock()
	delete(u.pending, res.OrderID)
	u.mu.Unlock()

	rec := &store.UsageRecord{
		UserID:           userID,
		RemainingSeconds: offer.GrantSeconds,
		PlanTier:         offer.Tier,
	}

	u.bus.PublishType(eventbus.PlanGranted, PlanGrantedEvent{
		OfferID:          offer.ID,
		PlanTier:         string(offer.Tier),
		GrantedSeconds:   offer.GrantSeconds,
		RemainingSeconds: rec.RemainingSeconds,
	})
	return rec, nil
}
