// Package attendant は担当者 (atendente) の登録と在席管理のハンドラです。
package attendant

import (
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"atende/assignment"
	"atende/database"
	"atende/httpx"
	"atende/model"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

type attendantInput struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Active *bool  `json:"active"`
}

// toModel は入力を検証して model に写します。active 未指定は true (更新時はハンドラ側で現在値に戻す)。
func (in attendantInput) toModel() (*model.Attendant, string) {
	a := &model.Attendant{
		Name:   strings.TrimSpace(in.Name),
		Email:  strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:  strings.TrimSpace(in.Phone),
		Active: true,
	}
	if in.Active != nil {
		a.Active = *in.Active
	}
	if a.Name == "" {
		return nil, "name is required"
	}
	if a.Email == "" {
		return nil, "email is required"
	}
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return nil, "email is invalid"
	}
	return a, ""
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		httpx.WriteJSONError(w, "attendant not found", http.StatusNotFound)
	case isUniqueViolation(err):
		httpx.WriteJSONError(w, "email already registered", http.StatusConflict)
	default:
		log.Printf("ERROR: attendant request failed: %v", err)
		httpx.WriteJSONError(w, "internal error", http.StatusInternalServerError)
	}
}

// isUniqueViolation は SQLite / Postgres の一意制約違反を判定します。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func ListHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		onlineOnly := r.URL.Query().Get("online") == "true"
		attendants, err := database.GetAllAttendants(db, onlineOnly)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, attendants)
	}
}

func GetHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := database.GetAttendantByID(db, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, a)
	}
}

func CreateHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in attendantInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		a, msg := in.toModel()
		if msg != "" {
			httpx.WriteJSONError(w, msg, http.StatusBadRequest)
			return
		}
		if err := database.CreateAttendant(db, a); err != nil {
			writeError(w, err)
			return
		}
		log.WithField("attendant", a.ID).Info("attendant created")
		httpx.WriteJSON(w, http.StatusCreated, a)
	}
}

// UpdateHandler は担当者を更新します。active 未指定なら現在の値を保ちます。
func UpdateHandler(db *sqlx.DB, svc *assignment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in attendantInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		a, msg := in.toModel()
		if msg != "" {
			httpx.WriteJSONError(w, msg, http.StatusBadRequest)
			return
		}
		a.ID = mux.Vars(r)["id"]
		if in.Active == nil {
			current, err := database.GetAttendantByID(db, a.ID)
			if err != nil {
				writeError(w, err)
				return
			}
			a.Active = current.Active
		}
		requeued, err := svc.UpdateAttendant(r.Context(), a)
		if err != nil {
			writeError(w, err)
			return
		}
		updated, err := database.GetAttendantByID(db, a.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(requeued) > 0 {
			w.Header().Set("X-Requeued", strconv.Itoa(len(requeued)))
		}
		httpx.WriteJSON(w, http.StatusOK, updated)
	}
}

// DeleteHandler は対応中の atendimento を待ち行列に戻してから削除します。
func DeleteHandler(svc *assignment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requeued, err := svc.RemoveAttendant(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"message":  "attendant deleted",
			"requeued": len(requeued),
		})
	}
}

// PresenceHandler は在席 (online=true) / 離席 (online=false) を切り替えます。
func PresenceHandler(svc *assignment.Service, online bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		requeued, err := svc.SetOnline(r.Context(), id, online)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"id":       id,
			"online":   online,
			"requeued": len(requeued),
		})
	}
}

// HeartbeatHandler は在席中の担当者の生存確認を記録します。
func HeartbeatHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := database.TouchAttendant(db, mux.Vars(r)["id"]); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RegisterRoutes は /api/atendentes 配下を登録します。admin は破壊的な操作に掛けるミドルウェアです。
func RegisterRoutes(r *mux.Router, db *sqlx.DB, svc *assignment.Service, admin mux.MiddlewareFunc) {
	r.HandleFunc("/api/atendentes", ListHandler(db)).Methods(http.MethodGet)
	r.Handle("/api/atendentes", admin(CreateHandler(db))).Methods(http.MethodPost)
	r.HandleFunc("/api/atendentes/{id}", GetHandler(db)).Methods(http.MethodGet)
	r.Handle("/api/atendentes/{id}", admin(UpdateHandler(db, svc))).Methods(http.MethodPut)
	r.Handle("/api/atendentes/{id}", admin(DeleteHandler(svc))).Methods(http.MethodDelete)
	r.HandleFunc("/api/atendentes/{id}/online", PresenceHandler(svc, true)).Methods(http.MethodPost)
	r.HandleFunc("/api/atendentes/{id}/offline", PresenceHandler(svc, false)).Methods(http.MethodPost)
	r.HandleFunc("/api/atendentes/{id}/heartbeat", HeartbeatHandler(db)).Methods(http.MethodPost)
}
