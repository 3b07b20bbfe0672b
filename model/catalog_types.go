package model

// Item は販売品目 (骨壺、記念品など) です。価格はセント単位。
type Item struct {
	ID         string `db:"id" json:"id"`
	Code       string `db:"code" json:"code"`
	Name       string `db:"name" json:"name"`
	Category   string `db:"category" json:"category"`
	PriceCents int64  `db:"price_cents" json:"priceCents"`
	Active     bool   `db:"active" json:"active"`
	CreatedAt  string `db:"created_at" json:"createdAt"`
}

// Plan は品目をまとめた販売プランです。
type Plan struct {
	ID          string   `db:"id" json:"id"`
	Code        string   `db:"code" json:"code"`
	Name        string   `db:"name" json:"name"`
	Description string   `db:"description" json:"description"`
	PriceCents  int64    `db:"price_cents" json:"priceCents"`
	Active      bool     `db:"active" json:"active"`
	CreatedAt   string   `db:"created_at" json:"createdAt"`
	ItemCodes   []string `db:"-" json:"itemCodes"`
}
