package database

import (
	"database/sql"
	"fmt"

	"atende/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const ticketColumns = `id, protocol, channel, customer_name, customer_phone, pet_name, subject,
	status, attendant_id, latitude, longitude, resolution, created_at, assigned_at, finished_at, updated_at`

// CreateTicketInTx は採番 (AT000001...) してから atendimento を登録します。
func CreateTicketInTx(tx *sqlx.Tx, t *model.Ticket) error {
	protocol, err := NextSequenceInTx(tx, SequenceTicket, SequenceTicket, 6)
	if err != nil {
		return fmt.Errorf("failed to issue ticket protocol: %w", err)
	}
	now := Now()
	t.ID = uuid.NewString()
	t.Protocol = protocol
	t.CreatedAt = now
	t.UpdatedAt = now

	const q = `INSERT INTO tickets (
			id, protocol, channel, customer_name, customer_phone, pet_name, subject,
			status, attendant_id, latitude, longitude, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.Exec(tx.Rebind(q),
		t.ID, t.Protocol, t.Channel, t.CustomerName, t.CustomerPhone, t.PetName, t.Subject,
		t.Status, t.AttendantID, t.Latitude, t.Longitude, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ticket %s: %w", protocol, err)
	}
	return nil
}

func GetTicketByID(q sqlx.Ext, id string) (*model.Ticket, error) {
	return getTicket(q, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
}

func GetTicketByProtocol(q sqlx.Ext, protocol string) (*model.Ticket, error) {
	return getTicket(q, `SELECT `+ticketColumns+` FROM tickets WHERE protocol = ?`, protocol)
}

// GetTicketForUpdateInTx は状態遷移前に行を読み込みます (Postgres では行ロック)。
func GetTicketForUpdateInTx(tx *sqlx.Tx, id string) (*model.Ticket, error) {
	return getTicket(tx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`+forUpdate(tx), id)
}

func getTicket(q sqlx.Ext, query, arg string) (*model.Ticket, error) {
	var t model.Ticket
	if err := sqlx.Get(q, &t, q.Rebind(query), arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ticket %s: %w", arg, err)
	}
	return &t, nil
}

func ListTickets(q sqlx.Ext, f model.TicketFilters) ([]model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1 = 1`
	args := []interface{}{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.AttendantID != "" {
		query += ` AND attendant_id = ?`
		args = append(args, f.AttendantID)
	}
	query += ` ORDER BY created_at DESC, protocol DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	tickets := []model.Ticket{}
	if err := sqlx.Select(q, &tickets, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

// GetWaitingTicketIDs は待ち行列を古い順に返します。
func GetWaitingTicketIDs(q sqlx.Ext, limit int) ([]string, error) {
	query := `SELECT id FROM tickets WHERE status = ? ORDER BY created_at, protocol`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	ids := []string{}
	if err := sqlx.Select(q, &ids, q.Rebind(query), model.StatusWaiting); err != nil {
		return nil, fmt.Errorf("failed to get waiting tickets: %w", err)
	}
	return ids, nil
}

// GetInServiceTicketIDsByAttendantInTx は担当者が対応中の atendimento を返します。
func GetInServiceTicketIDsByAttendantInTx(tx *sqlx.Tx, attendantID string) ([]string, error) {
	ids := []string{}
	err := tx.Select(&ids, tx.Rebind(`SELECT id FROM tickets WHERE attendant_id = ? AND status = ? ORDER BY created_at`),
		attendantID, model.StatusInService)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickets of attendant %s: %w", attendantID, err)
	}
	return ids, nil
}

// UpdateTicketStateInTx は状態・担当者・各種日時をまとめて書き戻します。
func UpdateTicketStateInTx(tx *sqlx.Tx, t *model.Ticket) error {
	t.UpdatedAt = Now()
	const q = `UPDATE tickets SET status = ?, attendant_id = ?, resolution = ?,
		assigned_at = ?, finished_at = ?, updated_at = ? WHERE id = ?`
	res, err := tx.Exec(tx.Rebind(q), t.Status, t.AttendantID, t.Resolution, t.AssignedAt, t.FinishedAt, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update ticket %s: %w", t.Protocol, err)
	}
	return requireAffected(res)
}

func InsertTicketEventInTx(tx *sqlx.Tx, ev model.TicketEvent) error {
	if ev.CreatedAt == "" {
		ev.CreatedAt = Now()
	}
	const q = `INSERT INTO ticket_events (ticket_id, from_status, to_status, attendant_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.Exec(tx.Rebind(q), ev.TicketID, ev.FromStatus, ev.ToStatus, ev.AttendantID, ev.Note, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event for ticket %s: %w", ev.TicketID, err)
	}
	return nil
}

func GetTicketEvents(q sqlx.Ext, ticketID string) ([]model.TicketEvent, error) {
	events := []model.TicketEvent{}
	err := sqlx.Select(q, &events, q.Rebind(`SELECT id, ticket_id, from_status, to_status, attendant_id, note, created_at
		FROM ticket_events WHERE ticket_id = ? ORDER BY id`), ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events for ticket %s: %w", ticketID, err)
	}
	return events, nil
}
