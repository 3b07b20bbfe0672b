package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"atende/database"
	"atende/events"
	"atende/model"
	"atende/testutil"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

type fakeProvider struct {
	reqs []SessionRequest
	err  error
}

func (f *fakeProvider) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &Session{ID: "cs_" + req.OrderNumber, URL: "https://pay.example/" + req.OrderNumber}, nil
}

type fakePrinter struct{ html string }

func (f *fakePrinter) PrintPDF(_ context.Context, html string) ([]byte, error) {
	f.html = html
	return []byte("%PDF-1.4"), nil
}

func passthrough(next http.Handler) http.Handler { return next }

type env struct {
	db       *sqlx.DB
	provider *fakeProvider
	ring     *events.Ring
	svc      *Service
	router   *mux.Router
	printer  *fakePrinter
	planID   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)

	require.NoError(t, database.CreateItem(db, &model.Item{Code: "URNA-01", Name: "Urna", PriceCents: 35000, Active: true}))
	require.NoError(t, database.CreateItem(db, &model.Item{Code: "PATA-01", Name: "Pegada", PriceCents: 8000, Active: true}))
	require.NoError(t, database.CreateItem(db, &model.Item{Code: "OLD-01", Name: "Antigo", PriceCents: 100, Active: false}))

	tx, err := db.Beginx()
	require.NoError(t, err)
	plan := &model.Plan{Code: "BASICO", Name: "Plano Básico", PriceCents: 89000, Active: true, ItemCodes: []string{"URNA-01"}}
	require.NoError(t, database.CreatePlanInTx(tx, plan))
	require.NoError(t, tx.Commit())

	e := &env{db: db, provider: &fakeProvider{}, ring: events.NewRing(10), printer: &fakePrinter{}, planID: plan.ID}
	e.svc = NewService(db, e.provider, e.ring, Options{WebhookSecret: secret, SuccessURL: "https://ok", CancelURL: "https://cancel"})
	e.router = mux.NewRouter()
	RegisterRoutes(e.router, db, e.svc, e.printer, "Memorial Pet", passthrough)
	RegisterWebhook(e.router, e.svc, passthrough)
	return e
}

func (e *env) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderSnapshotsPrices(t *testing.T) {
	e := newEnv(t)

	o, err := e.svc.CreateOrder(context.Background(), CreateOrderInput{
		PlanID:       e.planID,
		ItemCodes:    []string{"PATA-01", "PATA-01"},
		CustomerName: " Maria ",
	})
	require.NoError(t, err)
	assert.Equal(t, "PD000001", o.Number)
	assert.EqualValues(t, 89000+2*8000, o.TotalCents)
	assert.Equal(t, "cs_PD000001", o.SessionID)
	assert.Equal(t, model.OrderPending, o.Status)

	require.Len(t, e.provider.reqs, 1)
	assert.Equal(t, "BRL", e.provider.reqs[0].Currency)
	assert.EqualValues(t, o.TotalCents, e.provider.reqs[0].AmountCents)

	// 後から価格が変わっても注文明細は変わらない
	_, err = e.db.Exec(`UPDATE items SET price_cents = 1 WHERE code = 'PATA-01'`)
	require.NoError(t, err)
	stored, err := database.GetOrderByID(e.db, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)
	assert.Equal(t, "plan", stored.Lines[0].Kind)
	assert.Equal(t, 2, stored.Lines[1].Quantity)
	assert.EqualValues(t, 8000, stored.Lines[1].UnitCents)
	assert.Equal(t, "https://pay.example/PD000001", stored.CheckoutURL)

	assert.Equal(t, []string{events.TypeOrderCreated}, e.ring.Types())
}

func TestCreateOrderValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := []CreateOrderInput{
		{PlanID: e.planID},
		{CustomerName: "Maria"},
		{CustomerName: "Maria", PlanID: "missing"},
		{CustomerName: "Maria", ItemCodes: []string{"NOPE"}},
		{CustomerName: "Maria", ItemCodes: []string{"OLD-01"}},
		{CustomerName: "Maria", PlanID: e.planID, TicketID: "missing"},
	}
	for _, in := range cases {
		_, err := e.svc.CreateOrder(ctx, in)
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), "%+v: %v", in, err)
	}
	assert.Empty(t, e.provider.reqs)
}

func TestCreateOrderProviderFailureMarksFailed(t *testing.T) {
	e := newEnv(t)
	e.provider.err = errors.New("boom")

	rec := e.do(http.MethodPost, "/api/checkout", `{"planId":"`+e.planID+`","customerName":"Maria"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	orders, err := database.ListOrders(e.db, model.OrderFailed, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Empty(t, e.ring.Types())
}

func TestSignature(t *testing.T) {
	body := []byte(`{"sessionId":"x","status":"paid"}`)
	sig := Sign(secret, body)
	assert.True(t, VerifySignature(secret, body, sig))
	assert.True(t, VerifySignature(secret, body, "sha256="+sig))
	assert.False(t, VerifySignature(secret, body, "deadbeef"))
	assert.False(t, VerifySignature(secret, body, "not-hex"))
	assert.False(t, VerifySignature("", body, sig))
	assert.False(t, VerifySignature(secret, append(body, ' '), sig))
}

func TestWebhookIsIdempotent(t *testing.T) {
	e := newEnv(t)
	o, err := e.svc.CreateOrder(context.Background(), CreateOrderInput{PlanID: e.planID, CustomerName: "Maria"})
	require.NoError(t, err)

	body := `{"sessionId":"` + o.SessionID + `","status":"paid"}`
	headers := map[string]string{"X-Checkout-Signature": Sign(secret, []byte(body))}

	rec := e.do(http.MethodPost, "/webhooks/checkout", body, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["changed"])
	assert.Equal(t, "pago", resp["status"])

	rec = e.do(http.MethodPost, "/webhooks/checkout", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["changed"])

	// 支払済みの注文は後から expired が来ても変わらない
	expired := `{"sessionId":"` + o.SessionID + `","status":"expired"}`
	rec = e.do(http.MethodPost, "/webhooks/checkout", expired, map[string]string{"X-Checkout-Signature": Sign(secret, []byte(expired))})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := database.GetOrderByID(e.db, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, stored.Status)
	assert.NotEmpty(t, stored.PaidAt)

	assert.Equal(t, []string{events.TypeOrderCreated, events.TypeOrderPaid}, e.ring.Types())
}

func TestWebhookErrors(t *testing.T) {
	e := newEnv(t)

	body := `{"sessionId":"cs_x","status":"paid"}`
	rec := e.do(http.MethodPost, "/webhooks/checkout", body, map[string]string{"X-Checkout-Signature": "00"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/webhooks/checkout", body, map[string]string{"X-Checkout-Signature": Sign(secret, []byte(body))})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bad := `{"sessionId":"cs_x","status":"refunded"}`
	rec = e.do(http.MethodPost, "/webhooks/checkout", bad, map[string]string{"X-Checkout-Signature": Sign(secret, []byte(bad))})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderEndpointsAndReceipt(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/checkout", `{"planId":"`+e.planID+`","customerName":"Maria <b>"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o model.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))

	rec = e.do(http.MethodGet, "/api/orders?status=pendente", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = e.do(http.MethodGet, "/api/orders/"+o.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodGet, "/api/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/api/orders/"+o.ID+"/receipt.pdf", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "recibo-PD000001.pdf")
	assert.Contains(t, e.printer.html, "Maria &lt;b&gt;")
}

func TestHTTPProvider(t *testing.T) {
	var gotAuth, gotKey string
	var got SessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &got)
		w.Write([]byte(`{"id":"cs_1","url":"https://pay.example/cs_1"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.URL, "sk_test", srv.Client())
	require.NoError(t, err)
	s, err := p.CreateSession(context.Background(), SessionRequest{OrderID: "o1", AmountCents: 100, Currency: "BRL"})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.ID)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, "o1", gotKey)
	assert.EqualValues(t, 100, got.AmountCents)

	_, err = NewHTTPProvider("", "k", nil)
	assert.Error(t, err)
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad amount"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.URL, "", srv.Client())
	require.NoError(t, err)
	_, err = p.CreateSession(context.Background(), SessionRequest{OrderID: "o1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
