// Package atendimento は問い合わせ対応 (atendimento) の登録と状態遷移を扱います。
package atendimento

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"atende/assignment"
	"atende/database"
	"atende/events"
	"atende/metrics"
	"atende/model"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidTransition は現在の状態から許されない操作です (HTTP 409)。
var ErrInvalidTransition = model.ErrInvalidTransition

// ValidationError は入力不備です (HTTP 400)。
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// CreateInput は新規 atendimento の入力です。
type CreateInput struct {
	Channel       string   `json:"channel"`
	CustomerName  string   `json:"customerName"`
	CustomerPhone string   `json:"customerPhone"`
	PetName       string   `json:"petName"`
	Subject       string   `json:"subject"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	// ViaBot が true のときはボット対応中 (bot) として登録し、handoff まで待ち行列に入れない
	ViaBot bool `json:"viaBot"`
}

func (in *CreateInput) validate() error {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.Channel = strings.TrimSpace(in.Channel)
	if in.CustomerName == "" {
		return invalid("customerName is required")
	}
	if in.Channel == "" {
		in.Channel = "whatsapp"
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return invalid("latitude and longitude must be given together")
	}
	if in.Latitude != nil {
		if *in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180 {
			return invalid("coordinates out of range")
		}
	}
	return nil
}

// StatusEvent は atendimento.status_changed のペイロードです。
type StatusEvent struct {
	TicketID    string             `json:"ticketId"`
	Protocol    string             `json:"protocol"`
	From        model.TicketStatus `json:"from"`
	To          model.TicketStatus `json:"to"`
	AttendantID string             `json:"attendantId,omitempty"`
}

type Service struct {
	db     *sqlx.DB
	assign *assignment.Service
	pub    events.Publisher
}

func NewService(db *sqlx.DB, assign *assignment.Service, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Service{db: db, assign: assign, pub: pub}
}

// Create は atendimento を登録します。ボット経由でなければ待ち行列に入れ、すぐに割り当てを試みます。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Ticket, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t := &model.Ticket{
		Channel:       in.Channel,
		CustomerName:  in.CustomerName,
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		PetName:       strings.TrimSpace(in.PetName),
		Subject:       strings.TrimSpace(in.Subject),
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Status:        model.StatusWaiting,
	}
	if in.ViaBot {
		t.Status = model.StatusBot
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := database.CreateTicketInTx(tx, t); err != nil {
		return nil, err
	}
	if err := database.InsertTicketEventInTx(tx, model.TicketEvent{
		TicketID:  t.ID,
		ToStatus:  string(t.Status),
		Note:      "created via " + t.Channel,
		CreatedAt: t.CreatedAt,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ticket: %w", err)
	}

	log.WithFields(log.Fields{"protocol": t.Protocol, "status": t.Status}).Info("ticket created")
	events.Emit(ctx, s.pub, events.TypeTicketCreated, t, t.ID)

	if t.Status == model.StatusWaiting {
		return s.tryAssign(ctx, t)
	}
	return t, nil
}

// tryAssign は割り当てを試み、担当者がいなければ待ち状態のまま返します。
func (s *Service) tryAssign(ctx context.Context, t *model.Ticket) (*model.Ticket, error) {
	assigned, err := s.assign.AssignNext(ctx, t.ID)
	switch {
	case err == nil:
		return assigned, nil
	case errors.Is(err, assignment.ErrNoAttendantAvailable):
		log.WithField("protocol", t.Protocol).Info("no attendant available, ticket queued")
		return database.GetTicketByID(s.db, t.ID)
	default:
		return nil, err
	}
}

// Handoff はボットから人間の担当者へ引き継ぎます (bot → aguardando → 割り当て)。
func (s *Service) Handoff(ctx context.Context, id, note string) (*model.Ticket, error) {
	t, err := s.transition(ctx, id, model.StatusWaiting, func(t *model.Ticket) error {
		if t.Status != model.StatusBot {
			return ErrInvalidTransition
		}
		return nil
	}, withNote(note, "handoff from bot"))
	if err != nil {
		return nil, err
	}
	return s.tryAssign(ctx, t)
}

// Assign は待ち状態の atendimento を指定した担当者に割り当てます。
func (s *Service) Assign(ctx context.Context, id, attendantID string) (*model.Ticket, error) {
	if strings.TrimSpace(attendantID) == "" {
		return nil, invalid("attendantId is required")
	}
	return s.assign.AssignTo(ctx, id, attendantID)
}

// Transfer は対応中の atendimento を別の担当者へ付け替えます。
func (s *Service) Transfer(ctx context.Context, id, toAttendantID, note string) (*model.Ticket, error) {
	if strings.TrimSpace(toAttendantID) == "" {
		return nil, invalid("attendantId is required")
	}
	target, err := database.GetAttendantByID(s.db, toAttendantID)
	if err != nil {
		return nil, err
	}
	if !target.Active {
		return nil, assignment.ErrAttendantInactive
	}

	var fromAttendant string
	t, err := s.transition(ctx, id, model.StatusInService, func(t *model.Ticket) error {
		if t.Status != model.StatusInService {
			return ErrInvalidTransition
		}
		if t.AttendantID == toAttendantID {
			return invalid("ticket is already with attendant %s", toAttendantID)
		}
		fromAttendant = t.AttendantID
		t.AttendantID = toAttendantID
		return nil
	}, withNote(note, "transfer"))
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.pub, events.TypeTicketTransferred, map[string]string{
		"ticketId": t.ID, "protocol": t.Protocol, "from": fromAttendant, "to": toAttendantID,
	}, t.ID)
	return t, nil
}

// Finish は対応を完了します。解決内容のメモは必須です。
func (s *Service) Finish(ctx context.Context, id, resolution string) (*model.Ticket, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, invalid("resolution is required")
	}
	t, err := s.transition(ctx, id, model.StatusFinished, func(t *model.Ticket) error {
		t.Resolution = resolution
		return nil
	}, resolution)
	if err != nil {
		return nil, err
	}
	s.releaseCapacity(ctx)
	return t, nil
}

// Cancel は終了していない atendimento を取り消します。
func (s *Service) Cancel(ctx context.Context, id, reason string) (*model.Ticket, error) {
	var wasInService bool
	t, err := s.transition(ctx, id, model.StatusCancelled, func(t *model.Ticket) error {
		wasInService = t.Status == model.StatusInService
		return nil
	}, withNote(reason, "cancelled"))
	if err != nil {
		return nil, err
	}
	if wasInService {
		s.releaseCapacity(ctx)
	}
	return t, nil
}

// releaseCapacity は担当者の枠が空いたので待ち行列を再配分します。
func (s *Service) releaseCapacity(ctx context.Context) {
	if _, err := s.assign.DrainQueue(ctx); err != nil {
		log.Printf("WARN: queue drain after release failed: %v", err)
	}
}

func withNote(note, fallback string) string {
	if n := strings.TrimSpace(note); n != "" {
		return n
	}
	return fallback
}

// transition は行を読み込み、check で追加の検証・変更を行ってから to へ遷移させて履歴を残します。
func (s *Service) transition(ctx context.Context, id string, to model.TicketStatus, check func(*model.Ticket) error, note string) (*model.Ticket, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := database.GetTicketForUpdateInTx(tx, id)
	if err != nil {
		return nil, err
	}
	from := t.Status
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s → %s: %w", from, to, ErrInvalidTransition)
	}
	if check != nil {
		if err := check(t); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return nil, fmt.Errorf("%s → %s: %w", from, to, err)
			}
			return nil, err
		}
	}

	now := database.Now()
	t.Status = to
	if to.IsFinal() {
		t.FinishedAt = now
	}
	if err := database.UpdateTicketStateInTx(tx, t); err != nil {
		return nil, err
	}
	if err := database.InsertTicketEventInTx(tx, model.TicketEvent{
		TicketID:    t.ID,
		FromStatus:  string(from),
		ToStatus:    string(to),
		AttendantID: t.AttendantID,
		Note:        note,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}
	if to == model.StatusInService && t.AttendantID != "" {
		if err := database.MarkAttendantAssignedInTx(tx, t.AttendantID, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	metrics.RecordTransition(string(to))
	log.WithFields(log.Fields{"protocol": t.Protocol, "from": from, "to": to}).Info("ticket status changed")
	events.Emit(ctx, s.pub, events.TypeTicketStatus, StatusEvent{
		TicketID: t.ID, Protocol: t.Protocol, From: from, To: to, AttendantID: t.AttendantID,
	}, t.ID)
	return t, nil
}
