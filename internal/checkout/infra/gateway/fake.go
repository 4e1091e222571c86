package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

var _ ports.PaymentGateway = (*Fake)(nil)

// Fake is an in-process gateway for local runs and tests. It records every
// request and hands out sequential session ids.
type Fake struct {
	mu       sync.Mutex
	BaseURL  string
	err      error
	requests []ports.CheckoutSessionRequest
	seq      int
}

func NewFake() *Fake {
	return &Fake{BaseURL: "https://checkout.local/pay"}
}

func (f *Fake) CreateCheckoutSession(_ context.Context, req ports.CheckoutSessionRequest) (*ports.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	id := fmt.Sprintf("cs_test_%d", f.seq)
	return &ports.CheckoutSession{ID: id, URL: f.BaseURL + "/" + id}, nil
}

// SetErr makes subsequent calls fail with err; nil restores success.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) Requests() []ports.CheckoutSessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.CheckoutSessionRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *Fake) LastRequest() (ports.CheckoutSessionRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ports.CheckoutSessionRequest{}, false
	}
	return f.requests[len(f.requests)-1], true
}
