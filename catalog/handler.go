// Package catalog は販売品目とプランの管理ハンドラです。
package catalog

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"atende/config"
	"atende/database"
	"atende/httpx"
	"atende/loader"
	"atende/mappers"
	"atende/model"
	"atende/parsers"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

const maxUploadBytes = 10 << 20

func writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, database.ErrItemInUse):
		httpx.WriteJSONError(w, "item is referenced by a plan", http.StatusConflict)
	case errors.Is(err, database.ErrNotFound):
		httpx.WriteJSONError(w, msg, http.StatusNotFound)
	case strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value"):
		httpx.WriteJSONError(w, "code already exists", http.StatusConflict)
	default:
		log.Printf("ERROR: catalog request failed: %v", err)
		httpx.WriteJSONError(w, "internal error", http.StatusInternalServerError)
	}
}

type itemInput struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"priceCents"`
	Active     *bool  `json:"active"`
}

func (in itemInput) toModel() (*model.Item, error) {
	it := &model.Item{
		Code:       strings.TrimSpace(in.Code),
		Name:       strings.TrimSpace(in.Name),
		Category:   strings.TrimSpace(in.Category),
		PriceCents: in.PriceCents,
		Active:     in.Active == nil || *in.Active,
	}
	if it.Code == "" || it.Name == "" {
		return nil, fmt.Errorf("code and name are required")
	}
	if it.PriceCents < 0 {
		return nil, fmt.Errorf("priceCents must not be negative")
	}
	return it, nil
}

type planInput struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PriceCents  int64    `json:"priceCents"`
	Active      *bool    `json:"active"`
	ItemCodes   []string `json:"itemCodes"`
}

func (in planInput) toModel() (*model.Plan, error) {
	p := &model.Plan{
		Code:        strings.TrimSpace(in.Code),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		PriceCents:  in.PriceCents,
		Active:      in.Active == nil || *in.Active,
		ItemCodes:   in.ItemCodes,
	}
	if p.Code == "" || p.Name == "" {
		return nil, fmt.Errorf("code and name are required")
	}
	if p.PriceCents < 0 {
		return nil, fmt.Errorf("priceCents must not be negative")
	}
	return p, nil
}

func ListItemsHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := database.GetAllItems(db, r.URL.Query().Get("active") == "true")
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]mappers.ItemView, 0, len(items))
		for i := range items {
			views = append(views, mappers.ToItemView(&items[i]))
		}
		httpx.WriteJSON(w, http.StatusOK, views)
	}
}

func CreateItemHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in itemInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		it, err := in.toModel()
		if err != nil {
			httpx.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := database.CreateItem(db, it); err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, mappers.ToItemView(it))
	}
}

// UpdateItemHandler はプランから参照されている品目のコード変更を拒否します。
func UpdateItemHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in itemInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		it, err := in.toModel()
		if err != nil {
			httpx.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		it.ID = mux.Vars(r)["id"]

		current, err := database.GetItemByID(db, it.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		if current.Code != it.Code {
			refs, err := database.CountPlanReferences(db, current.Code)
			if err != nil {
				writeError(w, err)
				return
			}
			if refs > 0 {
				writeError(w, database.ErrItemInUse)
				return
			}
		}
		if err := database.UpdateItem(db, it); err != nil {
			writeError(w, err)
			return
		}
		it.CreatedAt = current.CreatedAt
		httpx.WriteJSON(w, http.StatusOK, mappers.ToItemView(it))
	}
}

func DeleteItemHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, err := db.Beginx()
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback()
		if err := database.DeleteItemInTx(tx, mux.Vars(r)["id"]); err != nil {
			writeError(w, err)
			return
		}
		if err := tx.Commit(); err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteMessage(w, "item deleted")
	}
}

// ImportItemsCSVHandler は CSV (multipart の file フィールド、または本文そのもの) を取り込みます。
// 文字コードは ?encoding= で指定し、省略時は設定値を使います。
func ImportItemsCSVHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encoding := r.URL.Query().Get("encoding")
		if encoding == "" {
			encoding = config.GetConfig().CatalogCSVEncoding
		}

		var src io.Reader = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
				httpx.WriteJSONError(w, "failed to parse form: "+err.Error(), http.StatusBadRequest)
				return
			}
			file, _, err := r.FormFile("file")
			if err != nil {
				httpx.WriteJSONError(w, "file field is required", http.StatusBadRequest)
				return
			}
			defer file.Close()
			src = file
		}

		items, err := parsers.ParseCatalogCSV(src, encoding)
		if err != nil {
			httpx.WriteJSONError(w, "failed to parse csv: "+err.Error(), http.StatusBadRequest)
			return
		}

		tx, err := db.Beginx()
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback()
		for _, it := range items {
			if err := database.UpsertItemInTx(tx, it); err != nil {
				writeError(w, err)
				return
			}
		}
		if err := tx.Commit(); err != nil {
			writeError(w, err)
			return
		}
		log.Printf("catalog csv imported: %d item(s)", len(items))
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"message":  fmt.Sprintf("%d item(s) imported", len(items)),
			"imported": len(items),
		})
	}
}

// SeedHandler は設定の catalogSeedPath にある YAML を取り込みます。
func SeedHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, plans, err := loader.LoadCatalogYAML(db, config.GetConfig().CatalogSeedPath)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				httpx.WriteJSONError(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]int{"items": items, "plans": plans})
	}
}

func ListPlansHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := database.GetAllPlans(db, r.URL.Query().Get("active") == "true")
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]mappers.PlanView, 0, len(plans))
		for i := range plans {
			views = append(views, mappers.ToPlanView(&plans[i]))
		}
		httpx.WriteJSON(w, http.StatusOK, views)
	}
}

func GetPlanHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := database.GetPlanByID(db, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, mappers.ToPlanView(p))
	}
}

// SavePlanHandler は作成 (id なし) と更新 (id あり) を兼ねます。
func SavePlanHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in planInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		p, err := in.toModel()
		if err != nil {
			httpx.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.ID = mux.Vars(r)["id"]

		tx, err := db.Beginx()
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback()

		status := http.StatusOK
		if p.ID == "" {
			status = http.StatusCreated
			err = database.CreatePlanInTx(tx, p)
		} else {
			if _, err := database.GetPlanByID(tx, p.ID); err != nil {
				writeError(w, err)
				return
			}
			err = database.UpdatePlanInTx(tx, p)
		}
		if err != nil {
			// ここでの ErrNotFound は未登録の品目コード
			if errors.Is(err, database.ErrNotFound) {
				httpx.WriteJSONError(w, "unknown item code: "+err.Error(), http.StatusBadRequest)
				return
			}
			writeError(w, err)
			return
		}
		if err := tx.Commit(); err != nil {
			writeError(w, err)
			return
		}
		saved, err := database.GetPlanByID(db, p.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, status, mappers.ToPlanView(saved))
	}
}

func DeletePlanHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, err := db.Beginx()
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback()
		if err := database.DeletePlanInTx(tx, mux.Vars(r)["id"]); err != nil {
			writeError(w, err)
			return
		}
		if err := tx.Commit(); err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteMessage(w, "plan deleted")
	}
}

// RegisterRoutes は品目・プラン関連を登録します。admin は更新系に掛けるミドルウェアです。
func RegisterRoutes(r *mux.Router, db *sqlx.DB, admin mux.MiddlewareFunc) {
	r.HandleFunc("/api/items", ListItemsHandler(db)).Methods(http.MethodGet)
	r.Handle("/api/items", admin(CreateItemHandler(db))).Methods(http.MethodPost)
	r.Handle("/api/items/import", admin(ImportItemsCSVHandler(db))).Methods(http.MethodPost)
	r.Handle("/api/items/{id}", admin(UpdateItemHandler(db))).Methods(http.MethodPut)
	r.Handle("/api/items/{id}", admin(DeleteItemHandler(db))).Methods(http.MethodDelete)

	r.HandleFunc("/api/plans", ListPlansHandler(db)).Methods(http.MethodGet)
	r.Handle("/api/plans", admin(SavePlanHandler(db))).Methods(http.MethodPost)
	r.HandleFunc("/api/plans/{id}", GetPlanHandler(db)).Methods(http.MethodGet)
	r.Handle("/api/plans/{id}", admin(SavePlanHandler(db))).Methods(http.MethodPut)
	r.Handle("/api/plans/{id}", admin(DeletePlanHandler(db))).Methods(http.MethodDelete)

	r.Handle("/api/catalog/seed", admin(SeedHandler(db))).Methods(http.MethodPost)
}
