package model

// OrderStatus は決済の状態です。
type OrderStatus string

const (
	OrderPending OrderStatus = "pendente"
	OrderPaid    OrderStatus = "pago"
	OrderFailed  OrderStatus = "falhou"
	OrderExpired OrderStatus = "expirado"
)

func (s OrderStatus) IsFinal() bool {
	return s == OrderPaid || s == OrderFailed || s == OrderExpired
}

// Order はホスト型チェックアウトに渡す注文です。
type Order struct {
	ID            string      `db:"id" json:"id"`
	Number        string      `db:"number" json:"number"`
	TicketID      string      `db:"ticket_id" json:"ticketId,omitempty"`
	PlanID        string      `db:"plan_id" json:"planId,omitempty"`
	CustomerName  string      `db:"customer_name" json:"customerName"`
	CustomerEmail string      `db:"customer_email" json:"customerEmail"`
	TotalCents    int64       `db:"total_cents" json:"totalCents"`
	Status        OrderStatus `db:"status" json:"status"`
	SessionID     string      `db:"session_id" json:"sessionId,omitempty"`
	CheckoutURL   string      `db:"checkout_url" json:"checkoutUrl,omitempty"`
	CreatedAt     string      `db:"created_at" json:"createdAt"`
	PaidAt        string      `db:"paid_at" json:"paidAt,omitempty"`

	Lines []OrderLine `db:"-" json:"lines"`
}

// OrderLine は注文時点の価格スナップショットです。
type OrderLine struct {
	ID          int64  `db:"id" json:"-"`
	OrderID     string `db:"order_id" json:"-"`
	Kind        string `db:"kind" json:"kind"`
	Code        string `db:"code" json:"code"`
	Description string `db:"description" json:"description"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitCents   int64  `db:"unit_cents" json:"unitCents"`
}
