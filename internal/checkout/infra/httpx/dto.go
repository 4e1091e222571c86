package httpx

import (
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/app"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type QuoteResponse struct {
	Items []QuoteLine `json:"items"`
	Total string      `json:"total"`
}

type QuoteLine struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type CallbackResponse struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type OrderResponse struct {
	ID             string              `json:"id"`
	CustomerID     string              `json:"customer_id,omitempty"`
	Name           string              `json:"name"`
	Email          string              `json:"email"`
	Phone          string              `json:"phone"`
	Address        string              `json:"address"`
	City           string              `json:"city,omitempty"`
	Zipcode        string              `json:"zipcode,omitempty"`
	Status         string              `json:"status"`
	Paid           bool                `json:"is_paid"`
	Total          string              `json:"total"`
	Customized     bool                `json:"is_customized"`
	CustomizedFile string              `json:"customized_file,omitempty"`
	Items          []OrderItemResponse `json:"items"`
	Payments       []PaymentResponse   `json:"payments,omitempty"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

type OrderItemResponse struct {
	ProductID   int64  `json:"product_id"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
}

type PaymentResponse struct {
	ID            int64  `json:"id"`
	OrderID       string `json:"order_id"`
	Amount        string `json:"amount"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Notes         string `json:"notes,omitempty"`
	Retryable     bool   `json:"retryable"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type PaymentChangeResponse struct {
	Payment *PaymentResponse `json:"payment,omitempty"`
	OrderID string           `json:"order_id"`
	Paid    bool             `json:"is_paid"`
	Status  string           `json:"status"`
}

func mapQuote(lines *domain.ValidatedLines) QuoteResponse {
	out := QuoteResponse{Items: make([]QuoteLine, len(lines.Lines)), Total: money(lines.Total)}
	for i, l := range lines.Lines {
		out.Items[i] = QuoteLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: money(l.UnitPrice),
			LineTotal: money(l.LineTotal),
		}
	}
	return out
}

func mapOrderToResponse(order *domain.Order, payments []domain.Payment) OrderResponse {
	resp := OrderResponse{
		ID:             order.ID,
		CustomerID:     order.Customer.CustomerID,
		Name:           order.Customer.Name,
		Email:          order.Customer.Email,
		Phone:          order.Customer.Phone,
		Address:        order.Customer.Address,
		City:           order.Customer.City,
		Zipcode:        order.Customer.Zipcode,
		Status:         string(order.Status),
		Paid:           order.Paid,
		Total:          money(order.Total),
		Customized:     order.Customized,
		CustomizedFile: order.CustomizedFile,
		Items:          make([]OrderItemResponse, len(order.Items)),
		CreatedAt:      timestamp(order.CreatedAt),
		UpdatedAt:      timestamp(order.UpdatedAt),
	}
	for i, it := range order.Items {
		resp.Items[i] = OrderItemResponse{
			ProductID:   it.ProductID,
			Name:        it.Name,
			Quantity:    it.Quantity,
			Price:       money(it.UnitPrice),
			ArtifactRef: it.ArtifactRef,
		}
	}
	resp.Payments = mapPayments(payments)
	return resp
}

func mapPayments(payments []domain.Payment) []PaymentResponse {
	out := make([]PaymentResponse, len(payments))
	for i := range payments {
		out[i] = mapPayment(&payments[i])
	}
	return out
}

func mapPayment(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Amount:        money(p.Amount),
		Method:        string(p.Method),
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		Notes:         p.Notes,
		Retryable:     p.Retryable,
		CreatedAt:     timestamp(p.CreatedAt),
		UpdatedAt:     timestamp(p.UpdatedAt),
	}
}

func mapPaymentChange(c *app.PaymentChange) PaymentChangeResponse {
	resp := PaymentChangeResponse{OrderID: c.OrderID, Paid: c.Paid, Status: string(c.Status)}
	if c.Payment != nil {
		p := mapPayment(c.Payment)
		resp.Payment = &p
	}
	return resp
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
