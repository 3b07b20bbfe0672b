package database

import (
	"fmt"

	"atende/model"

	"github.com/jmoiron/sqlx"
)

// assignmentLockKey は Postgres のアドバイザリロック番号です。
const assignmentLockKey = 7305001

// LockAssignmentInTx は割り当て処理をインスタンス間で直列化します。
// SQLite は _txlock=immediate で書き込みトランザクション自体が直列化されるため何もしません。
func LockAssignmentInTx(tx *sqlx.Tx) error {
	if tx.DriverName() != "postgres" {
		return nil
	}
	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock($1)`, assignmentLockKey); err != nil {
		return fmt.Errorf("failed to acquire assignment lock: %w", err)
	}
	return nil
}

// GetAssignableAttendantsInTx は有効かつオンラインで、対応中件数が maxConcurrent 未満の担当者を
// 割り当て優先順 (対応中件数 → 割り当て順序 (未割り当てが先) → ID) に返します。
func GetAssignableAttendantsInTx(tx *sqlx.Tx, maxConcurrent int) ([]model.Attendant, error) {
	query := `SELECT c.* FROM (
			SELECT ` + attendantColumns + `, ` + openTicketsSubquery + ` AS open_tickets
			FROM attendants a WHERE a.active = ? AND a.online = ?
		) c
		WHERE c.open_tickets < ?
		ORDER BY c.open_tickets, c.assign_seq, c.id`
	attendants := []model.Attendant{}
	if err := tx.Select(&attendants, tx.Rebind(query), true, true, maxConcurrent); err != nil {
		return nil, fmt.Errorf("failed to get assignable attendants: %w", err)
	}
	return attendants, nil
}

// CountWaitingTickets は待ち行列の件数です。
func CountWaitingTickets(q sqlx.Ext) (int, error) {
	var n int
	if err := sqlx.Get(q, &n, q.Rebind(`SELECT COUNT(*) FROM tickets WHERE status = ?`), model.StatusWaiting); err != nil {
		return 0, fmt.Errorf("failed to count waiting tickets: %w", err)
	}
	return n, nil
}
