package model

// Attendant は人間の担当者 (Atendente) を表します。
type Attendant struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	Email          string `db:"email" json:"email"`
	Phone          string `db:"phone" json:"phone"`
	Active         bool   `db:"active" json:"active"`
	Online         bool   `db:"online" json:"online"`
	LastSeenAt     string `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	LastAssignedAt string `db:"last_assigned_at" json:"lastAssignedAt,omitempty"`
	AssignSeq      int64  `db:"assign_seq" json:"-"`
	CreatedAt      string `db:"created_at" json:"createdAt"`

	// 集計用 (DBカラムなし)
	OpenTickets int `db:"open_tickets" json:"openTickets"`
}
