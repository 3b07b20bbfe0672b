package atendimento

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"atende/assignment"
	"atende/database"
	"atende/httpx"
	"atende/mappers"
	"atende/model"
	"atende/render"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// writeError はドメインエラーを HTTP ステータスに対応付けて返します。
func writeError(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.WriteJSONError(w, vErr.Msg, http.StatusBadRequest)
	case errors.Is(err, database.ErrNotFound):
		httpx.WriteJSONError(w, "atendimento or attendant not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		httpx.WriteJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, assignment.ErrAttendantInactive):
		httpx.WriteJSONError(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("ERROR: atendimento request failed: %v", err)
		httpx.WriteJSONError(w, "internal error", http.StatusInternalServerError)
	}
}

// lookup は ID またはプロトコル番号 (AT000123) で1件取得します。
func lookup(db *sqlx.DB, key string) (*model.Ticket, error) {
	if strings.HasPrefix(key, database.SequenceTicket) {
		if t, err := database.GetTicketByProtocol(db, key); err == nil || !errors.Is(err, database.ErrNotFound) {
			return t, err
		}
	}
	return database.GetTicketByID(db, key)
}

func filtersFromQuery(r *http.Request) (model.TicketFilters, error) {
	q := r.URL.Query()
	f := model.TicketFilters{
		Status:      model.TicketStatus(q.Get("status")),
		AttendantID: q.Get("attendant"),
		Limit:       httpx.QueryInt(r, "limit", 200),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, invalid("unknown status: %s", f.Status)
	}
	return f, nil
}

// ListHandler は絞り込み条件付きの一覧を返します。
func ListHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := filtersFromQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		tickets, err := database.ListTickets(db, f)
		if err != nil {
			writeError(w, err)
			return
		}
		names, err := database.GetAttendantMap(db)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, mappers.ToTicketViews(tickets, names, time.Now().UTC()))
	}
}

// TableHandler は一覧を HTML の表断片で返します (管理画面の部分更新用)。
func TableHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := filtersFromQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		tickets, err := database.ListTickets(db, f)
		if err != nil {
			writeError(w, err)
			return
		}
		names, err := database.GetAttendantMap(db)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(render.RenderTicketTableHTML(mappers.ToTicketViews(tickets, names, time.Now().UTC()))))
	}
}

func GetHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := lookup(db, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		names, err := database.GetAttendantMap(db)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, mappers.ToTicketView(t, names, time.Now().UTC()))
	}
}

func HistoryHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := lookup(db, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		evs, err := database.GetTicketEvents(db, t.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, evs)
	}
}

func CreateHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in CreateInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		t, err := svc.Create(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, t)
	}
}

// actionRequest は状態遷移系エンドポイント共通のボディです。
type actionRequest struct {
	AttendantID string `json:"attendantId"`
	Note        string `json:"note"`
	Resolution  string `json:"resolution"`
	Reason      string `json:"reason"`
}

// ActionHandler は handoff / assign / transfer / finish / cancel を受け付けます。
func ActionHandler(svc *Service, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		t, err := lookup(svc.db, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}

		var updated *model.Ticket
		switch action {
		case "handoff":
			updated, err = svc.Handoff(r.Context(), t.ID, req.Note)
		case "assign":
			updated, err = svc.Assign(r.Context(), t.ID, req.AttendantID)
		case "transfer":
			updated, err = svc.Transfer(r.Context(), t.ID, req.AttendantID, req.Note)
		case "finish":
			updated, err = svc.Finish(r.Context(), t.ID, req.Resolution)
		case "cancel":
			updated, err = svc.Cancel(r.Context(), t.ID, req.Reason)
		default:
			httpx.WriteJSONError(w, "unknown action", http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, updated)
	}
}

// RegisterRoutes は /api/atendimentos 配下を登録します。
func RegisterRoutes(r *mux.Router, db *sqlx.DB, svc *Service) {
	r.HandleFunc("/api/atendimentos", ListHandler(db)).Methods(http.MethodGet)
	r.HandleFunc("/api/atendimentos", CreateHandler(svc)).Methods(http.MethodPost)
	r.HandleFunc("/api/atendimentos/table", TableHandler(db)).Methods(http.MethodGet)
	r.HandleFunc("/api/atendimentos/{id}", GetHandler(db)).Methods(http.MethodGet)
	r.HandleFunc("/api/atendimentos/{id}/history", HistoryHandler(db)).Methods(http.MethodGet)
	for _, action := range []string{"handoff", "assign", "transfer", "finish", "cancel"} {
		r.HandleFunc("/api/atendimentos/{id}/"+action, ActionHandler(svc, action)).Methods(http.MethodPost)
	}
}
