package checkout

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"atende/automation"
	"atende/database"
	"atende/httpx"
	"atende/model"
	"atende/render"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

const maxWebhookBytes = 64 << 10

func writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteJSONError(w, verr.Msg, http.StatusBadRequest)
	case errors.Is(err, ErrInvalidSignature):
		httpx.WriteJSONError(w, "invalid signature", http.StatusUnauthorized)
	case errors.Is(err, ErrProvider):
		httpx.WriteJSONError(w, "checkout provider unavailable", http.StatusBadGateway)
	case errors.Is(err, database.ErrNotFound):
		httpx.WriteJSONError(w, "order not found", http.StatusNotFound)
	default:
		log.Printf("ERROR: checkout request failed: %v", err)
		httpx.WriteJSONError(w, "internal error", http.StatusInternalServerError)
	}
}

func CreateHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in CreateOrderInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		o, err := svc.CreateOrder(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, o)
	}
}

// WebhookHandler は署名付き通知を受け取ります。再送は 200 で受け流します。
func WebhookHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			httpx.WriteJSONError(w, "failed to read body", http.StatusBadRequest)
			return
		}
		o, changed, err := svc.HandleWebhook(r.Context(), body, r.Header.Get("X-Checkout-Signature"))
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"orderId": o.ID,
			"status":  o.Status,
			"changed": changed,
		})
	}
}

func ListHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := model.OrderStatus(r.URL.Query().Get("status"))
		orders, err := database.ListOrders(db, status, httpx.QueryInt(r, "limit", 100))
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, orders)
	}
}

func GetHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := database.GetOrderByID(db, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, o)
	}
}

// ReceiptSource は領収書 PDF の元 HTML を組み立てます。
func ReceiptSource(db *sqlx.DB, companyName string) automation.PDFSource {
	return func(r *http.Request) (string, string, error) {
		o, err := database.GetOrderByID(db, mux.Vars(r)["id"])
		if err != nil {
			return "", "", err
		}
		return render.RenderReceiptHTML(o, companyName), fmt.Sprintf("recibo-%s.pdf", o.Number), nil
	}
}

// RegisterRoutes は /api 配下の注文系を登録します。webhook は認証の外に置くため別登録です。
func RegisterRoutes(r *mux.Router, db *sqlx.DB, svc *Service, printer automation.Printer, companyName string, limit mux.MiddlewareFunc) {
	r.Handle("/api/checkout", limit(CreateHandler(svc))).Methods(http.MethodPost)
	r.HandleFunc("/api/orders", ListHandler(db)).Methods(http.MethodGet)
	r.HandleFunc("/api/orders/{id}", GetHandler(db)).Methods(http.MethodGet)
	r.HandleFunc("/api/orders/{id}/receipt.pdf", automation.PDFHandler(printer, ReceiptSource(db, companyName))).Methods(http.MethodGet)
}

func RegisterWebhook(r *mux.Router, svc *Service, limit mux.MiddlewareFunc) {
	r.Handle("/webhooks/checkout", limit(WebhookHandler(svc))).Methods(http.MethodPost)
}
