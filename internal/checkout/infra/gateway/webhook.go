package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

var _ ports.EventVerifier = (*WebhookVerifier)(nil)

// WebhookVerifier checks the processor signature header
//
//	t=<unix seconds>,v1=<hex hmac-sha256(secret, "<t>.<payload>")>
//
// and decodes the event body.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// WithClock replaces the time source used for the tolerance check.
func (v *WebhookVerifier) WithClock(now func() time.Time) *WebhookVerifier {
	v.now = now
	return v
}

func (v *WebhookVerifier) Verify(payload []byte, header string) (*ports.GatewayEvent, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: webhook secret not configured", domain.ErrInvalidSignature)
	}

	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return nil, err
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}

	expected := computeSignature(v.secret, ts, payload)
	matched := false
	for _, s := range sigs {
		if hmac.Equal(expected, s) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: no matching v1 signature", domain.ErrInvalidSignature)
	}

	return decodeEvent(payload)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, fmt.Errorf("%w: missing signature header", domain.ErrInvalidSignature)
	}

	var (
		ts   int64
		sigs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
			}
			ts = n
		case "v1":
			b, err := hex.DecodeString(val)
			if err != nil {
				continue
			}
			sigs = append(sigs, b)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed signature header", domain.ErrInvalidSignature)
	}
	return ts, sigs, nil
}

func computeSignature(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// Sign builds a signature header for payload. The processor simulator and
// tests use it to produce callbacks the verifier accepts.
func Sign(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature([]byte(secret), ts, payload)))
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object sessionObject `json:"object"`
	} `json:"data"`
}

type sessionObject struct {
	ID              string            `json:"id"`
	PaymentIntent   string            `json:"payment_intent"`
	PaymentStatus   string            `json:"payment_status"`
	AmountTotal     *int64            `json:"amount_total"`
	Metadata        map[string]string `json:"metadata"`
	AfterExpiration *struct {
		Recovery *struct {
			URL string `json:"url"`
		} `json:"recovery"`
	} `json:"after_expiration"`
}

func decodeEvent(payload []byte) (*ports.GatewayEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: decode event: %v", domain.ErrValidation, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: event id and type required", domain.ErrValidation)
	}

	obj := env.Data.Object
	ev := &ports.GatewayEvent{
		ID:            env.ID,
		Type:          env.Type,
		SessionID:     obj.ID,
		PaymentIntent: obj.PaymentIntent,
		PaymentStatus: obj.PaymentStatus,
		OrderID:       obj.Metadata["order_id"],
		ReservationID: obj.Metadata["reservation_id"],
	}
	if obj.AmountTotal != nil {
		ev.AmountTotal = decimal.NewNullDecimal(domain.FromMinorUnits(*obj.AmountTotal))
	}
	if obj.AfterExpiration != nil && obj.AfterExpiration.Recovery != nil {
		ev.RecoveryURL = obj.AfterExpiration.Recovery.URL
	}
	return ev, nil
}
