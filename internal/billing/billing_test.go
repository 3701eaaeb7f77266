package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/eventbus"
	"github.com/voxline-ai/voxline/internal/store"
)

type fakeGranter struct {
	grantErr error
	grants   []grant
}

type grant struct {
	userID  string
	tier    store.PlanTier
	seconds int
}

func (f *fakeGranter) GrantPlan(_ context.Context, userID string, tier store.PlanTier, seconds int) error {
	if f.grantErr != nil {
		return f.grantErr
	}
	f.grants = append(f.grants, grant{userID, tier, seconds})
	return nil
}

// fakeGateway serves the two endpoints the client uses.
func fakeGateway(t *testing.T, verifyValid bool) (*httptest.Server, *[]int64) {
	t.Helper()
	var amounts []int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-123" {
			t.Errorf("Authorization = %q", got)
		}
		var body struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode order request: %v", err)
		}
		amounts = append(amounts, body.Amount)
		json.NewEncoder(w).Encode(Order{
			ID:       fmt.Sprintf("order_%d", len(amounts)),
			Amount:   body.Amount,
			Currency: body.Currency,
			Status:   "created",
		})
	})
	mux.HandleFunc("POST /v1/payments/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"valid": verifyValid})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &amounts
}

func newTestUpgrader(t *testing.T, srv *httptest.Server, granter Granter) *Upgrader {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	gw := NewGateway(config.BillingConfig{
		BaseURL:  srv.URL,
		APIKey:   "key-123",
		Currency: "INR",
	})
	return NewUpgrader(gw, NewCatalog(nil), granter, bus, slog.New(slog.DiscardHandler))
}

func TestCatalog_Defaults(t *testing.T) {
	c := NewCatalog(nil)
	tests := []struct {
		id      string
		tier    store.PlanTier
		price   int64
		seconds int
	}{
		{"basic", store.TierBasic, 24900, 2400},
		{"pro", store.TierPro, 115000, 12000},
		{"premium", store.TierPremium, 225000, 24000},
	}
	for _, tt := range tests {
		offer, ok := c.Lookup(tt.id)
		if !ok {
			t.Fatalf("offer %s missing", tt.id)
		}
		if offer.Tier != tt.tier || offer.PriceMinorUnits != tt.price || offer.GrantSeconds != tt.seconds {
			t.Fatalf("offer %s = %+v", tt.id, offer)
		}
	}
}

func TestCatalog_ConfigOverrides(t *testing.T) {
	c := NewCatalog([]config.OfferConfig{
		{ID: "mega", Tier: "premium", PriceMinorUnits: 500000, GrantSeconds: 60000},
	})
	if _, ok := c.Lookup("basic"); ok {
		t.Fatal("overridden catalog still serves built-in offers")
	}
	offer, ok := c.Lookup("mega")
	if !ok || offer.Tier != store.TierPremium || offer.GrantSeconds != 60000 {
		t.Fatalf("mega offer = %+v, ok=%v", offer, ok)
	}
}

func TestBeginUpgrade_CreatesOrderForOfferPrice(t *testing.T) {
	srv, amounts := fakeGateway(t, true)
	u := newTestUpgrader(t, srv, &fakeGranter{})

	order, err := u.BeginUpgrade(context.Background(), "pro")
	if err != nil {
		t.Fatalf("begin upgrade: %v", err)
	}
	if order.ID == "" || order.Amount != 115000 {
		t.Fatalf("order = %+v", order)
	}
	if len(*amounts) != 1 || (*amounts)[0] != 115000 {
		t.Fatalf("gateway saw amounts %v", *amounts)
	}
}

func TestBeginUpgrade_UnknownOffer(t *testing.T) {
	srv, _ := fakeGateway(t, true)
	u := newTestUpgrader(t, srv, &fakeGranter{})

	if _, err := u.BeginUpgrade(context.Background(), "gold"); !errors.Is(err, ErrUnknownOffer) {
		t.Fatalf("expected ErrUnknownOffer, got %v", err)
	}
}

func TestCompletePayment_GrantsPlan(t *testing.T) {
	srv, _ := fakeGateway(t, true)
	granter := &fakeGranter{}
	u := newTestUpgrader(t, srv, granter)

	order, err := u.BeginUpgrade(context.Background(), "basic")
	if err != nil {
		t.Fatalf("begin upgrade: %v", err)
	}

	rec, err := u.CompletePayment(context.Background(), "u1", PaymentResult{
		OrderID:   order.ID,
		PaymentID: "pay_1",
		Signature: "sig",
	})
	if err != nil {
		t.Fatalf("complete payment: %v", err)
	}
	if rec.RemainingSeconds != 2400 || rec.PlanTier != store.TierBasic {
		t.Fatalf("record = %+v", rec)
	}
	if len(granter.grants) != 1 || granter.grants[0].seconds != 2400 {
		t.Fatalf("grants = %+v", granter.grants)
	}

	// The order is consumed; replaying the same result is rejected.
	if _, err := u.CompletePayment(context.Background(), "u1", PaymentResult{OrderID: order.ID}); !errors.Is(err, ErrUnknownOffer) {
		t.Fatalf("replay: expected ErrUnknownOffer, got %v", err)
	}
}

func TestCompletePayment_AbandonedOrderExpires(t *testing.T) {
	srv, _ := fakeGateway(t, true)
	granter := &fakeGranter{}
	u := newTestUpgrader(t, srv, granter)

	order, err := u.BeginUpgrade(context.Background(), "basic")
	if err != nil {
		t.Fatalf("begin upgrade: %v", err)
	}

	// Age the order past the TTL, as if the checkout was dismissed and
	// never came back.
	u.mu.Lock()
	p := u.pending[order.ID]
	p.createdAt = time.Now().Add(-2 * pendingOrderTTL)
	u.pending[order.ID] = p
	u.mu.Unlock()

	if _, err := u.CompletePayment(context.Background(), "u1", PaymentResult{OrderID: order.ID}); !errors.Is(err, ErrUnknownOffer) {
		t.Fatalf("expected ErrUnknownOffer for expired order, got %v", err)
	}
	if len(granter.grants) != 0 {
		t.Fatalf("grants = %+v, want none", granter.grants)
	}

	u.mu.Lock()
	remembered := len(u.pending)
	u.mu.Unlock()
	if remembered != 0 {
		t.Fatalf("pending orders = %d, want 0", remembered)
	}
}

func TestCancelUpgrade_ForgetsOrder(t *testing.T) {
	srv, _ := fakeGateway(t, true)
	u := newTestUpgrader(t, srv, &fakeGranter{})

	order, err := u.BeginUpgrade(context.Background(), "pro")
	if err != nil {
		t.Fatalf("begin upgrade: %v", err)
	}

	u.CancelUpgrade(order.ID)
	if _, err := u.CompletePayment(context.Background(), "u1", PaymentResult{OrderID: order.ID}); !errors.Is(err, ErrUnknownOffer) {
		t.Fatalf("expected ErrUnknownOffer after cancel, got %v", err)
	}

	// Cancelling twice is harmless.
	u.CancelUpgrade(order.ID)
}

func TestCompletePayment_VerificationFailure(t *testing.T) {
	srv, _ := fakeGateway(t, false)
	granter := &fakeGranter{}
	u := newTestUpgrader(t, srv, granter)

	order, err := u.BeginUpgrade(context.Background(), "basic")
	if err != nil {
		t.Fatalf("begin upgrade: %v", err)
	}

	_, err = u.CompletePayment(context.Background(), "u1", PaymentResult{OrderID: order.ID})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
	if len(granter.grants) != 0 {
		t.Fatal("plan granted despite failed verification")
	}
}

func TestCompletePayment_GrantFailureIsNotPaymentFailure(t *testing.T) {
	srv, _ := fakeGateway(t, true)
	granter := &fakeGranter{grantErr: errors.New("store down")}
	u := newTestUpgrader(t, srv, granter)

	order, err := u.BeginUpgrade(context.Background(), "pro")
	if err != nil {
		t.Fatalf("begin upgrade: %v", err)
	}

	_, err = u.CompletePayment(context.Background(), "u1", PaymentResult{OrderID: order.ID})
	if !errors.Is(err, ErrPaidNotCredited) {
		t.Fatalf("expected ErrPaidNotCredited, got %v", err)
	}
	if errors.Is(err, ErrPaymentFailed) {
		t.Fatal("grant failure must not read as a payment failure")
	}
}

func TestGateway_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	gw := NewGateway(config.BillingConfig{BaseURL: srv.URL, Currency: "INR"})
	if _, err := gw.CreateOrder(context.Background(), 100, "r"); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}
