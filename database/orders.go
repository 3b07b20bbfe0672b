package database

import (
	"database/sql"
	"fmt"

	"atende/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, number, ticket_id, plan_id, customer_name, customer_email, total_cents,
	status, session_id, checkout_url, created_at, paid_at`

// CreateOrderInTx は採番 (PD000001...) し、注文と明細を登録します。
func CreateOrderInTx(tx *sqlx.Tx, o *model.Order) error {
	number, err := NextSequenceInTx(tx, SequenceOrder, SequenceOrder, 6)
	if err != nil {
		return fmt.Errorf("failed to issue order number: %w", err)
	}
	o.ID = uuid.NewString()
	o.Number = number
	o.CreatedAt = Now()
	if o.Status == "" {
		o.Status = model.OrderPending
	}

	const q = `INSERT INTO orders (id, number, ticket_id, plan_id, customer_name, customer_email,
			total_cents, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.Exec(tx.Rebind(q), o.ID, o.Number, o.TicketID, o.PlanID, o.CustomerName, o.CustomerEmail,
		o.TotalCents, o.Status, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", number, err)
	}

	stmt, err := tx.Preparex(tx.Rebind(`INSERT INTO order_lines (order_id, kind, code, description, quantity, unit_cents)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare order line insert statement: %w", err)
	}
	defer stmt.Close()

	for _, l := range o.Lines {
		if _, err := stmt.Exec(o.ID, l.Kind, l.Code, l.Description, l.Quantity, l.UnitCents); err != nil {
			return fmt.Errorf("failed to insert order line %s for %s: %w", l.Code, number, err)
		}
	}
	return nil
}

func GetOrderByID(q sqlx.Ext, id string) (*model.Order, error) {
	return getOrder(q, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func GetOrderBySessionID(q sqlx.Ext, sessionID string) (*model.Order, error) {
	return getOrder(q, `SELECT `+orderColumns+` FROM orders WHERE session_id = ?`, sessionID)
}

func getOrder(q sqlx.Ext, query, arg string) (*model.Order, error) {
	var o model.Order
	if err := sqlx.Get(q, &o, q.Rebind(query), arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order %s: %w", arg, err)
	}
	o.Lines = []model.OrderLine{}
	err := sqlx.Select(q, &o.Lines, q.Rebind(`SELECT id, order_id, kind, code, description, quantity, unit_cents
		FROM order_lines WHERE order_id = ? ORDER BY id`), o.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lines of order %s: %w", o.Number, err)
	}
	return &o, nil
}

func ListOrders(q sqlx.Ext, status model.OrderStatus, limit int) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, number DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	orders := []model.Order{}
	if err := sqlx.Select(q, &orders, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func SetOrderSession(q sqlx.Ext, id, sessionID, url string) error {
	res, err := q.Exec(q.Rebind(`UPDATE orders SET session_id = ?, checkout_url = ? WHERE id = ?`), sessionID, url, id)
	if err != nil {
		return fmt.Errorf("failed to store checkout session for order %s: %w", id, err)
	}
	return requireAffected(res)
}

// UpdateOrderStatusInTx は pendente の注文だけを最終状態へ移します。
// 更新できた場合 true を返します (再送された webhook は false)。
func UpdateOrderStatusInTx(tx *sqlx.Tx, id string, status model.OrderStatus) (bool, error) {
	paidAt := ""
	if status == model.OrderPaid {
		paidAt = Now()
	}
	res, err := tx.Exec(tx.Rebind(`UPDATE orders SET status = ?, paid_at = ? WHERE id = ? AND status = ?`),
		status, paidAt, id, model.OrderPending)
	if err != nil {
		return false, fmt.Errorf("failed to update status of order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
