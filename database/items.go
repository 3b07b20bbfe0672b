package database

import (
	"database/sql"
	"errors"
	"fmt"

	"atende/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrItemInUse はプランから参照されている品目を削除しようとした場合に返します。
var ErrItemInUse = errors.New("item is referenced by a plan")

const itemColumns = `id, code, name, category, price_cents, active, created_at`

func GetAllItems(q sqlx.Ext, activeOnly bool) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	args := []interface{}{}
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY category, code`
	items := []model.Item{}
	if err := sqlx.Select(q, &items, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get all items: %w", err)
	}
	return items, nil
}

func GetItemByID(q sqlx.Ext, id string) (*model.Item, error) {
	var it model.Item
	if err := sqlx.Get(q, &it, q.Rebind(`SELECT `+itemColumns+` FROM items WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return &it, nil
}

// GetItemsByCodes はコード順ではなく引数の順で品目を返します。見つからないコードはエラー。
func GetItemsByCodes(q sqlx.Ext, codes []string) ([]model.Item, error) {
	if len(codes) == 0 {
		return []model.Item{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM items WHERE code IN (?)`, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}
	var found []model.Item
	if err := sqlx.Select(q, &found, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get items by codes: %w", err)
	}
	byCode := make(map[string]model.Item, len(found))
	for _, it := range found {
		byCode[it.Code] = it
	}
	items := make([]model.Item, 0, len(codes))
	for _, c := range codes {
		it, ok := byCode[c]
		if !ok {
			return nil, fmt.Errorf("item %s: %w", c, ErrNotFound)
		}
		items = append(items, it)
	}
	return items, nil
}

func CreateItem(q sqlx.Ext, it *model.Item) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	it.CreatedAt = Now()
	const query = `INSERT INTO items (id, code, name, category, price_cents, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := q.Exec(q.Rebind(query), it.ID, it.Code, it.Name, it.Category, it.PriceCents, it.Active, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateItem (Code: %s) failed: %w", it.Code, err)
	}
	return nil
}

func UpdateItem(q sqlx.Ext, it *model.Item) error {
	const query = `UPDATE items SET code = ?, name = ?, category = ?, price_cents = ?, active = ? WHERE id = ?`
	res, err := q.Exec(q.Rebind(query), it.Code, it.Name, it.Category, it.PriceCents, it.Active, it.ID)
	if err != nil {
		return fmt.Errorf("UpdateItem (ID: %s) failed: %w", it.ID, err)
	}
	return requireAffected(res)
}

// UpsertItemInTx はコードをキーに品目を挿入または更新します (CSV/YAML 取込用)。
func UpsertItemInTx(tx *sqlx.Tx, it model.Item) error {
	const q = `
		INSERT INTO items (id, code, name, category, price_cents, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			price_cents = excluded.price_cents,
			active = excluded.active
	`
	_, err := tx.Exec(tx.Rebind(q), uuid.NewString(), it.Code, it.Name, it.Category, it.PriceCents, it.Active, Now())
	if err != nil {
		return fmt.Errorf("UpsertItemInTx (Code: %s, Name: %s) failed: %w", it.Code, it.Name, err)
	}
	return nil
}

func DeleteItemInTx(tx *sqlx.Tx, id string) error {
	it, err := GetItemByID(tx, id)
	if err != nil {
		return err
	}
	refs, err := CountPlanReferences(tx, it.Code)
	if err != nil {
		return err
	}
	if refs > 0 {
		return ErrItemInUse
	}
	if _, err := tx.Exec(tx.Rebind(`DELETE FROM items WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", it.Code, err)
	}
	return nil
}

// CountPlanReferences は品目コードを含むプランの数です。
func CountPlanReferences(q sqlx.Ext, code string) (int, error) {
	var refs int
	if err := sqlx.Get(q, &refs, q.Rebind(`SELECT COUNT(*) FROM plan_items WHERE item_code = ?`), code); err != nil {
		return 0, fmt.Errorf("failed to count plan references for item %s: %w", code, err)
	}
	return refs, nil
}
