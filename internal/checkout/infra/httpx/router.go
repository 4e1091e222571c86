package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors"
)

func NewRouter(handler *Handler, tokens TokenVerifier) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(interceptors.AttachRequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.Health)

	// The processor authenticates with its signature, not a bearer token.
	r.Post("/payments/callback", handler.PaymentCallback)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(tokens))

		r.Post("/checkout/quote", handler.Quote)
		r.Post("/checkout", handler.Checkout)

		r.Group(func(r chi.Router) {
			r.Use(RequireIdentity)
			r.Get("/orders/{id}", handler.GetOrder)
			r.Post("/orders/{id}/retry", handler.RetryPayment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/orders/{id}/payments", handler.ListPayments)
			r.Post("/orders/{id}/payments", handler.RecordPayment)
			r.Post("/orders/{id}/cancel", handler.CancelOrder)
			r.Post("/orders/{id}/reconcile", handler.ReconcileOrder)
			r.Patch("/payments/{paymentID}", handler.UpdatePayment)
			r.Delete("/payments/{paymentID}", handler.DeletePayment)
		})
	})

	return otelhttp.NewHandler(r, "checkout-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
