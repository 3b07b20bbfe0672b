package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// 採番の名前とプレフィックス
const (
	SequenceTicket = "AT"
	SequenceOrder  = "PD"
)

func NextSequenceInTx(tx *sqlx.Tx, name, prefix string, padding int) (string, error) {
	var lastNo int
	err := tx.Get(&lastNo, tx.Rebind("SELECT last_no FROM code_sequences WHERE name = ?"), name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("sequence '%s' not found", name)
		}
		return "", fmt.Errorf("failed to get sequence '%s': %w", name, err)
	}

	newNo := lastNo + 1
	_, err = tx.Exec(tx.Rebind(`UPDATE code_sequences SET last_no = ? WHERE name = ?`), newNo, name)
	if err != nil {
		return "", fmt.Errorf("failed to update sequence '%s': %w", name, err)
	}

	format := fmt.Sprintf("%s%%0%dd", prefix, padding)
	return fmt.Sprintf(format, newNo), nil
}

// InitializeSequenceFromMax は既存テーブルの最大コードから last_no を合わせ直します。
// DBを手で復元した後でも採番が重複しないようにするためのものです。
func InitializeSequenceFromMax(tx *sqlx.Tx, name, table, column string) error {
	var maxCode sql.NullString
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIKE ? ORDER BY %s DESC LIMIT 1", column, table, column, column)
	err := tx.Get(&maxCode, tx.Rebind(q), name+"%")

	maxNum := 0
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read max code for '%s': %w", name, err)
	}

	if maxCode.Valid && strings.HasPrefix(maxCode.String, name) {
		maxNum, _ = strconv.Atoi(strings.TrimPrefix(maxCode.String, name))
	}

	var current int
	if err := tx.Get(&current, tx.Rebind("SELECT last_no FROM code_sequences WHERE name = ?"), name); err != nil {
		return fmt.Errorf("failed to read sequence '%s': %w", name, err)
	}
	if current >= maxNum {
		return nil
	}

	log.Printf("INFO: [Sequence] Setting '%s' last_no to %d", name, maxNum)
	_, err = tx.Exec(tx.Rebind(`UPDATE code_sequences SET last_no = ? WHERE name = ?`), maxNum, name)
	return err
}
