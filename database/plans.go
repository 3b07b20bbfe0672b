package database

import (
	"database/sql"
	"fmt"

	"atende/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const planColumns = `id, code, name, description, price_cents, active, created_at`

func GetAllPlans(q sqlx.Ext, activeOnly bool) ([]model.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	args := []interface{}{}
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY price_cents, code`
	plans := []model.Plan{}
	if err := sqlx.Select(q, &plans, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get all plans: %w", err)
	}

	itemsByPlan, err := getPlanItemCodes(q)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		plans[i].ItemCodes = itemsByPlan[plans[i].ID]
		if plans[i].ItemCodes == nil {
			plans[i].ItemCodes = []string{}
		}
	}
	return plans, nil
}

func getPlanItemCodes(q sqlx.Ext) (map[string][]string, error) {
	rows := []struct {
		PlanID   string `db:"plan_id"`
		ItemCode string `db:"item_code"`
	}{}
	if err := sqlx.Select(q, &rows, `SELECT plan_id, item_code FROM plan_items ORDER BY plan_id, item_code`); err != nil {
		return nil, fmt.Errorf("failed to get plan items: %w", err)
	}
	m := make(map[string][]string)
	for _, r := range rows {
		m[r.PlanID] = append(m[r.PlanID], r.ItemCode)
	}
	return m, nil
}

func GetPlanByID(q sqlx.Ext, id string) (*model.Plan, error) {
	var p model.Plan
	if err := sqlx.Get(q, &p, q.Rebind(`SELECT `+planColumns+` FROM plans WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan %s: %w", id, err)
	}
	p.ItemCodes = []string{}
	if err := sqlx.Select(q, &p.ItemCodes, q.Rebind(`SELECT item_code FROM plan_items WHERE plan_id = ? ORDER BY item_code`), id); err != nil {
		return nil, fmt.Errorf("failed to get items of plan %s: %w", id, err)
	}
	return &p, nil
}

func GetPlanIDByCode(q sqlx.Ext, code string) (string, error) {
	var id string
	if err := sqlx.Get(q, &id, q.Rebind(`SELECT id FROM plans WHERE code = ?`), code); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get plan by code %s: %w", code, err)
	}
	return id, nil
}

func CreatePlanInTx(tx *sqlx.Tx, p *model.Plan) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = Now()
	const q = `INSERT INTO plans (id, code, name, description, price_cents, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.Exec(tx.Rebind(q), p.ID, p.Code, p.Name, p.Description, p.PriceCents, p.Active, p.CreatedAt); err != nil {
		return fmt.Errorf("CreatePlanInTx (Code: %s) failed: %w", p.Code, err)
	}
	return replacePlanItemsInTx(tx, p.ID, p.ItemCodes)
}

func UpdatePlanInTx(tx *sqlx.Tx, p *model.Plan) error {
	const q = `UPDATE plans SET code = ?, name = ?, description = ?, price_cents = ?, active = ? WHERE id = ?`
	res, err := tx.Exec(tx.Rebind(q), p.Code, p.Name, p.Description, p.PriceCents, p.Active, p.ID)
	if err != nil {
		return fmt.Errorf("UpdatePlanInTx (ID: %s) failed: %w", p.ID, err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return replacePlanItemsInTx(tx, p.ID, p.ItemCodes)
}

// UpsertPlanInTx はコードをキーにプランを登録・更新します (YAML シード用)。
func UpsertPlanInTx(tx *sqlx.Tx, p model.Plan) error {
	id, err := GetPlanIDByCode(tx, p.Code)
	switch {
	case err == ErrNotFound:
		return CreatePlanInTx(tx, &p)
	case err != nil:
		return err
	}
	p.ID = id
	return UpdatePlanInTx(tx, &p)
}

func replacePlanItemsInTx(tx *sqlx.Tx, planID string, codes []string) error {
	if _, err := tx.Exec(tx.Rebind(`DELETE FROM plan_items WHERE plan_id = ?`), planID); err != nil {
		return fmt.Errorf("failed to clear items of plan %s: %w", planID, err)
	}
	if len(codes) == 0 {
		return nil
	}
	// 存在しない品目コードは受け付けない
	if _, err := GetItemsByCodes(tx, codes); err != nil {
		return err
	}
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if seen[code] {
			continue
		}
		seen[code] = true
		if _, err := tx.Exec(tx.Rebind(`INSERT INTO plan_items (plan_id, item_code) VALUES (?, ?)`), planID, code); err != nil {
			return fmt.Errorf("failed to link item %s to plan %s: %w", code, planID, err)
		}
	}
	return nil
}

func DeletePlanInTx(tx *sqlx.Tx, id string) error {
	if _, err := tx.Exec(tx.Rebind(`DELETE FROM plan_items WHERE plan_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete items of plan %s: %w", id, err)
	}
	res, err := tx.Exec(tx.Rebind(`DELETE FROM plans WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete plan %s: %w", id, err)
	}
	return requireAffected(res)
}
