package database

import (
	"database/sql"
	"fmt"

	"atende/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const attendantColumns = `a.id, a.name, a.email, a.phone, a.active, a.online,
	a.last_seen_at, a.last_assigned_at, a.assign_seq, a.created_at`

// openTicketsSubquery は担当者ごとの対応中件数です。
const openTicketsSubquery = `(SELECT COUNT(*) FROM tickets t WHERE t.attendant_id = a.id AND t.status = 'em_atendimento')`

func GetAllAttendants(q sqlx.Ext, onlineOnly bool) ([]model.Attendant, error) {
	query := `SELECT ` + attendantColumns + `, ` + openTicketsSubquery + ` AS open_tickets
		FROM attendants a`
	args := []interface{}{}
	if onlineOnly {
		query += ` WHERE a.online = ? AND a.active = ?`
		args = append(args, true, true)
	}
	query += ` ORDER BY a.name, a.id`

	attendants := []model.Attendant{}
	if err := sqlx.Select(q, &attendants, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get all attendants: %w", err)
	}
	return attendants, nil
}

func GetAttendantByID(q sqlx.Ext, id string) (*model.Attendant, error) {
	var a model.Attendant
	query := `SELECT ` + attendantColumns + `, ` + openTicketsSubquery + ` AS open_tickets
		FROM attendants a WHERE a.id = ?`
	if err := sqlx.Get(q, &a, q.Rebind(query), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attendant %s: %w", id, err)
	}
	return &a, nil
}

// GetAttendantMap は担当者IDと名前のマップを返します (一覧表示用)。
func GetAttendantMap(q sqlx.Ext) (map[string]string, error) {
	attendants, err := GetAllAttendants(q, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get attendant list for map: %w", err)
	}
	m := make(map[string]string, len(attendants))
	for _, a := range attendants {
		m[a.ID] = a.Name
	}
	return m, nil
}

func CreateAttendant(q sqlx.Ext, a *model.Attendant) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = Now()
	const query = `INSERT INTO attendants (id, name, email, phone, active, online, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := q.Exec(q.Rebind(query), a.ID, a.Name, a.Email, a.Phone, a.Active, false, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateAttendant (Email: %s) failed: %w", a.Email, err)
	}
	return nil
}

func UpdateAttendant(q sqlx.Ext, a *model.Attendant) error {
	const query = `UPDATE attendants SET name = ?, email = ?, phone = ?, active = ? WHERE id = ?`
	res, err := q.Exec(q.Rebind(query), a.Name, a.Email, a.Phone, a.Active, a.ID)
	if err != nil {
		return fmt.Errorf("UpdateAttendant (ID: %s) failed: %w", a.ID, err)
	}
	return requireAffected(res)
}

// SetAttendantOnlineInTx はオンライン状態を切り替えます。オンライン化は last_seen_at も更新します。
func SetAttendantOnlineInTx(tx *sqlx.Tx, id string, online bool) error {
	now := Now()
	var res sql.Result
	var err error
	if online {
		res, err = tx.Exec(tx.Rebind(`UPDATE attendants SET online = ?, last_seen_at = ? WHERE id = ?`), true, now, id)
	} else {
		res, err = tx.Exec(tx.Rebind(`UPDATE attendants SET online = ? WHERE id = ?`), false, id)
	}
	if err != nil {
		return fmt.Errorf("failed to set online=%v for attendant %s: %w", online, id, err)
	}
	return requireAffected(res)
}

func TouchAttendant(q sqlx.Ext, id string) error {
	res, err := q.Exec(q.Rebind(`UPDATE attendants SET last_seen_at = ? WHERE id = ?`), Now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch attendant %s: %w", id, err)
	}
	return requireAffected(res)
}

// GetStaleOnlineAttendantIDs は last_seen_at が cutoff より古いオンライン担当者を返します。
func GetStaleOnlineAttendantIDs(q sqlx.Ext, cutoff string) ([]string, error) {
	ids := []string{}
	err := sqlx.Select(q, &ids, q.Rebind(`SELECT id FROM attendants WHERE online = ? AND last_seen_at < ? ORDER BY id`), true, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale attendants: %w", err)
	}
	return ids, nil
}

// MarkAttendantAssignedInTx は最終割り当て日時と割り当て順序を更新します。
// assign_seq は割り当てロック下で単調増加するため、同一秒内の割り当てでも順番が決まります。
func MarkAttendantAssignedInTx(tx *sqlx.Tx, id, at string) error {
	const query = `UPDATE attendants SET last_assigned_at = ?,
		assign_seq = (SELECT COALESCE(MAX(s.assign_seq), 0) + 1 FROM attendants s)
		WHERE id = ?`
	_, err := tx.Exec(tx.Rebind(query), at, id)
	if err != nil {
		return fmt.Errorf("failed to mark attendant %s assigned: %w", id, err)
	}
	return nil
}

func DeleteAttendantInTx(tx *sqlx.Tx, id string) error {
	res, err := tx.Exec(tx.Rebind(`DELETE FROM attendants WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete attendant with id %s: %w", id, err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
