package model

import "errors"

// ErrInvalidTransition は許可されていない状態遷移です。
var ErrInvalidTransition = errors.New("invalid status transition")

// TicketStatus は atendimento の状態です。
type TicketStatus string

const (
	StatusBot       TicketStatus = "bot"
	StatusWaiting   TicketStatus = "aguardando"
	StatusInService TicketStatus = "em_atendimento"
	StatusFinished  TicketStatus = "finalizado"
	StatusCancelled TicketStatus = "cancelado"
)

// AllStatuses は表示順に並べた全状態です。
var AllStatuses = []TicketStatus{StatusBot, StatusWaiting, StatusInService, StatusFinished, StatusCancelled}

// IsFinal は終了状態かどうかを返します。
func (s TicketStatus) IsFinal() bool {
	return s == StatusFinished || s == StatusCancelled
}

func (s TicketStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// transitions は from → 許可される to の表です。
// em_atendimento → em_atendimento は担当替え (transfer)、→ aguardando は担当者離席時の差し戻し。
var transitions = map[TicketStatus][]TicketStatus{
	StatusBot:       {StatusWaiting, StatusCancelled},
	StatusWaiting:   {StatusInService, StatusCancelled},
	StatusInService: {StatusInService, StatusWaiting, StatusFinished, StatusCancelled},
}

// CanTransitionTo は s から next への遷移が許されるかを返します。
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Ticket は atendimento (問い合わせ対応) 1件です。
type Ticket struct {
	ID            string       `db:"id" json:"id"`
	Protocol      string       `db:"protocol" json:"protocol"`
	Channel       string       `db:"channel" json:"channel"`
	CustomerName  string       `db:"customer_name" json:"customerName"`
	CustomerPhone string       `db:"customer_phone" json:"customerPhone"`
	PetName       string       `db:"pet_name" json:"petName"`
	Subject       string       `db:"subject" json:"subject"`
	Status        TicketStatus `db:"status" json:"status"`
	AttendantID   string       `db:"attendant_id" json:"attendantId,omitempty"`
	Latitude      *float64     `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64     `db:"longitude" json:"longitude,omitempty"`
	Resolution    string       `db:"resolution" json:"resolution,omitempty"`
	CreatedAt     string       `db:"created_at" json:"createdAt"`
	AssignedAt    string       `db:"assigned_at" json:"assignedAt,omitempty"`
	FinishedAt    string       `db:"finished_at" json:"finishedAt,omitempty"`
	UpdatedAt     string       `db:"updated_at" json:"updatedAt"`
}

// TicketEvent は状態遷移の履歴です。
type TicketEvent struct {
	ID          int64  `db:"id" json:"id"`
	TicketID    string `db:"ticket_id" json:"ticketId"`
	FromStatus  string `db:"from_status" json:"fromStatus"`
	ToStatus    string `db:"to_status" json:"toStatus"`
	AttendantID string `db:"attendant_id" json:"attendantId,omitempty"`
	Note        string `db:"note" json:"note,omitempty"`
	CreatedAt   string `db:"created_at" json:"createdAt"`
}

// TicketFilters は一覧取得の絞り込み条件です。
type TicketFilters struct {
	Status      TicketStatus
	AttendantID string
	Limit       int
}
