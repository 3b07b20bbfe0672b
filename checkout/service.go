package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"atende/database"
	"atende/events"
	"atende/metrics"
	"atende/model"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrInvalidSignature は webhook の署名が一致しない場合に返されます。
	ErrInvalidSignature = errors.New("checkout: invalid webhook signature")
	// ErrProvider は決済サービス側でセッションを作れなかった場合に返されます。
	ErrProvider = errors.New("checkout: provider failed")
)

// ValidationError は入力不備です (400)。
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// CreateOrderInput はプラン 1 件と追加品目 (重複は数量) の注文内容です。
type CreateOrderInput struct {
	TicketID      string   `json:"ticketId"`
	PlanID        string   `json:"planId"`
	ItemCodes     []string `json:"itemCodes"`
	CustomerName  string   `json:"customerName"`
	CustomerEmail string   `json:"customerEmail"`
}

// WebhookPayload は決済サービスからの通知です。status は paid / failed / expired。
type WebhookPayload struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// OrderEvent は order.* イベントの本文です。
type OrderEvent struct {
	OrderID    string            `json:"orderId"`
	Number     string            `json:"number"`
	Status     model.OrderStatus `json:"status"`
	TotalCents int64             `json:"totalCents"`
	TicketID   string            `json:"ticketId,omitempty"`
}

type Options struct {
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Service struct {
	db       *sqlx.DB
	provider Provider
	pub      events.Publisher
	opts     Options
}

func NewService(db *sqlx.DB, provider Provider, pub events.Publisher, opts Options) *Service {
	return &Service{db: db, provider: provider, pub: pub, opts: opts}
}

// buildLines は現在の価格を明細にコピーし、合計を返します。
func (s *Service) buildLines(in CreateOrderInput) ([]model.OrderLine, int64, error) {
	var lines []model.OrderLine
	if in.PlanID != "" {
		plan, err := database.GetPlanByID(s.db, in.PlanID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, 0, invalid("plan %s not found", in.PlanID)
		}
		if err != nil {
			return nil, 0, err
		}
		if !plan.Active {
			return nil, 0, invalid("plan %s is not active", plan.Code)
		}
		lines = append(lines, model.OrderLine{
			Kind: "plan", Code: plan.Code, Description: plan.Name, Quantity: 1, UnitCents: plan.PriceCents,
		})
	}

	if len(in.ItemCodes) > 0 {
		qty := make(map[string]int, len(in.ItemCodes))
		var order []string
		for _, c := range in.ItemCodes {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if qty[c] == 0 {
				order = append(order, c)
			}
			qty[c]++
		}
		items, err := database.GetItemsByCodes(s.db, order)
		if errors.Is(err, database.ErrNotFound) {
			return nil, 0, invalid("unknown item: %v", err)
		}
		if err != nil {
			return nil, 0, err
		}
		for _, it := range items {
			if !it.Active {
				return nil, 0, invalid("item %s is not active", it.Code)
			}
			lines = append(lines, model.OrderLine{
				Kind: "item", Code: it.Code, Description: it.Name, Quantity: qty[it.Code], UnitCents: it.PriceCents,
			})
		}
	}

	if len(lines) == 0 {
		return nil, 0, invalid("planId or itemCodes is required")
	}
	var total int64
	for _, l := range lines {
		total += int64(l.Quantity) * l.UnitCents
	}
	return lines, total, nil
}

// CreateOrder は注文を pendente で登録し、決済セッションを作成します。
// セッション作成に失敗した注文は falhou にして ErrProvider を返します。
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerEmail = strings.ToLower(strings.TrimSpace(in.CustomerEmail))
	if in.CustomerName == "" {
		return nil, invalid("customerName is required")
	}
	if in.TicketID != "" {
		if _, err := database.GetTicketByID(s.db, in.TicketID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, invalid("atendimento %s not found", in.TicketID)
			}
			return nil, err
		}
	}

	lines, total, err := s.buildLines(in)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		TicketID:      in.TicketID,
		PlanID:        in.PlanID,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		TotalCents:    total,
		Lines:         lines,
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := database.CreateOrderInTx(tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	req := SessionRequest{
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		AmountCents:   o.TotalCents,
		Currency:      "BRL",
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		SuccessURL:    s.opts.SuccessURL,
		CancelURL:     s.opts.CancelURL,
	}
	for _, l := range o.Lines {
		req.Lines = append(req.Lines, SessionLine{Description: l.Description, Quantity: l.Quantity, UnitCents: l.UnitCents})
	}

	session, err := s.provider.CreateSession(ctx, req)
	if err != nil {
		metrics.RecordCheckoutSession(false)
		log.WithFields(log.Fields{"order": o.Number}).Printf("WARN: checkout session failed: %v", err)
		if markErr := s.markFailed(o.ID); markErr != nil {
			log.Printf("WARN: failed to mark order %s as failed: %v", o.Number, markErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	metrics.RecordCheckoutSession(true)

	if err := database.SetOrderSession(s.db, o.ID, session.ID, session.URL); err != nil {
		return nil, err
	}
	o.SessionID = session.ID
	o.CheckoutURL = session.URL

	log.WithFields(log.Fields{"order": o.Number, "total": o.TotalCents}).Info("order created")
	events.Emit(ctx, s.pub, events.TypeOrderCreated, toEvent(o), o.TicketID)
	return o, nil
}

func (s *Service) markFailed(id string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := database.UpdateOrderStatusInTx(tx, id, model.OrderFailed); err != nil {
		return err
	}
	return tx.Commit()
}

// Sign は本文の HMAC-SHA256 を 16 進文字列で返します。
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature は "sha256=" 付き・なしの両方の署名を受け付けます。
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func parseProviderStatus(s string) (model.OrderStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "pago", "succeeded":
		return model.OrderPaid, true
	case "failed", "falhou", "canceled", "cancelled":
		return model.OrderFailed, true
	case "expired", "expirado":
		return model.OrderExpired, true
	}
	return "", false
}

// HandleWebhook は署名を検証し、注文を最終状態へ移します。
// すでに最終状態の注文への再送は何もせず changed=false を返します。
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (order *model.Order, changed bool, err error) {
	if !VerifySignature(s.opts.WebhookSecret, body, signature) {
		metrics.RecordWebhook("rejected")
		return nil, false, ErrInvalidSignature
	}
	defer func() {
		switch {
		case err != nil:
			metrics.RecordWebhook("error")
		case changed:
			metrics.RecordWebhook("applied")
		default:
			metrics.RecordWebhook("duplicate")
		}
	}()

	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false, invalid("invalid webhook payload: %v", err)
	}
	status, ok := parseProviderStatus(p.Status)
	if !ok {
		return nil, false, invalid("unknown status %q", p.Status)
	}
	if p.SessionID == "" {
		return nil, false, invalid("sessionId is required")
	}

	o, err := database.GetOrderBySessionID(s.db, p.SessionID)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	changed, err = database.UpdateOrderStatusInTx(tx, o.ID, status)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit order status: %w", err)
	}

	if !changed {
		log.Printf("webhook for order %s ignored (already %s)", o.Number, o.Status)
		return o, false, nil
	}

	o, err = database.GetOrderByID(s.db, o.ID)
	if err != nil {
		return nil, true, err
	}
	log.WithFields(log.Fields{"order": o.Number, "status": o.Status}).Info("order status updated")
	eventType := events.TypeOrderStatus
	if o.Status == model.OrderPaid {
		eventType = events.TypeOrderPaid
	}
	events.Emit(ctx, s.pub, eventType, toEvent(o), o.TicketID)
	return o, true, nil
}

func toEvent(o *model.Order) OrderEvent {
	return OrderEvent{OrderID: o.ID, Number: o.Number, Status: o.Status, TotalCents: o.TotalCents, TicketID: o.TicketID}
}
