// Package assignment は待ち行列の atendimento を担当者へラウンドロビンで割り当てます。
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"atende/config"
	"atende/database"
	"atende/events"
	"atende/metrics"
	"atende/model"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoAttendantAvailable は受け入れ可能な担当者がいない場合に返されます。
	ErrNoAttendantAvailable = errors.New("no attendant available")
	// ErrNotWaiting は対象が待ち状態 (aguardando) でない場合に返されます。
	ErrNotWaiting = fmt.Errorf("ticket is not waiting: %w", model.ErrInvalidTransition)
	// ErrAttendantInactive は手動割り当て先が無効化されている場合に返されます。
	ErrAttendantInactive = errors.New("attendant is inactive")
)

// AssignedEvent は atendimento.assigned のペイロードです。
type AssignedEvent struct {
	TicketID      string `json:"ticketId"`
	Protocol      string `json:"protocol"`
	AttendantID   string `json:"attendantId"`
	AttendantName string `json:"attendantName"`
	Manual        bool   `json:"manual"`
}

// PresenceEvent は atendente.presence のペイロードです。
type PresenceEvent struct {
	AttendantID string   `json:"attendantId"`
	Online      bool     `json:"online"`
	Requeued    []string `json:"requeued,omitempty"`
}

// Service は割り当て処理をプロセス内で直列化します。
// インスタンス間は database.LockAssignmentInTx で直列化します。
type Service struct {
	db  *sqlx.DB
	pub events.Publisher
	mu  sync.Mutex
}

func NewService(db *sqlx.DB, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Service{db: db, pub: pub}
}

// PickAttendant は受け入れ可能な担当者のうち、対応中件数が最少の1人を選びます。
// 同数なら最終割り当てが最も古い (未割り当てを優先) 担当者、さらに同じなら ID の小さい方。
func PickAttendant(tx *sqlx.Tx, maxConcurrent int) (*model.Attendant, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = config.GetConfig().MaxConcurrentTickets
	}
	candidates, err := database.GetAssignableAttendantsInTx(tx, maxConcurrent)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoAttendantAvailable
	}
	return &candidates[0], nil
}

// AssignNext は待ち状態の atendimento 1件をラウンドロビンで割り当てます。
func (s *Service) AssignNext(ctx context.Context, ticketID string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignNextLocked(ctx, ticketID)
}

func (s *Service) assignNextLocked(ctx context.Context, ticketID string) (*model.Ticket, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := database.LockAssignmentInTx(tx); err != nil {
		return nil, err
	}
	ticket, err := database.GetTicketForUpdateInTx(tx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != model.StatusWaiting {
		return nil, ErrNotWaiting
	}

	attendant, err := PickAttendant(tx, config.GetConfig().MaxConcurrentTickets)
	if err != nil {
		if errors.Is(err, ErrNoAttendantAvailable) {
			metrics.RecordAssignment("no_attendant")
		}
		return nil, err
	}
	if err := assignInTx(tx, ticket, attendant.ID, "round-robin"); err != nil {
		metrics.RecordAssignment("error")
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordAssignment("error")
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	s.afterAssign(ctx, ticket, attendant, false)
	return ticket, nil
}

// AssignTo は管理者が担当者を指定して割り当てます。容量制限は適用しません。
func (s *Service) AssignTo(ctx context.Context, ticketID, attendantID string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := database.LockAssignmentInTx(tx); err != nil {
		return nil, err
	}
	ticket, err := database.GetTicketForUpdateInTx(tx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != model.StatusWaiting {
		return nil, ErrNotWaiting
	}
	attendant, err := database.GetAttendantByID(tx, attendantID)
	if err != nil {
		return nil, err
	}
	if !attendant.Active {
		return nil, ErrAttendantInactive
	}
	if err := assignInTx(tx, ticket, attendant.ID, "manual"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	s.afterAssign(ctx, ticket, attendant, true)
	return ticket, nil
}

func assignInTx(tx *sqlx.Tx, ticket *model.Ticket, attendantID, note string) error {
	now := database.Now()
	from := ticket.Status
	ticket.Status = model.StatusInService
	ticket.AttendantID = attendantID
	ticket.AssignedAt = now
	if err := database.UpdateTicketStateInTx(tx, ticket); err != nil {
		return err
	}
	if err := database.InsertTicketEventInTx(tx, model.TicketEvent{
		TicketID:    ticket.ID,
		FromStatus:  string(from),
		ToStatus:    string(ticket.Status),
		AttendantID: attendantID,
		Note:        note,
		CreatedAt:   now,
	}); err != nil {
		return err
	}
	return database.MarkAttendantAssignedInTx(tx, attendantID, now)
}

func (s *Service) afterAssign(ctx context.Context, ticket *model.Ticket, attendant *model.Attendant, manual bool) {
	metrics.RecordAssignment("assigned")
	metrics.RecordTransition(string(model.StatusInService))
	log.WithFields(log.Fields{
		"protocol":  ticket.Protocol,
		"attendant": attendant.ID,
		"manual":    manual,
	}).Info("ticket assigned")
	events.Emit(ctx, s.pub, events.TypeTicketAssigned, AssignedEvent{
		TicketID:      ticket.ID,
		Protocol:      ticket.Protocol,
		AttendantID:   attendant.ID,
		AttendantName: attendant.Name,
		Manual:        manual,
	}, ticket.ID)
}

// DrainQueue は待ち行列を古い順に割り当て、割り当てた件数を返します。
// 受け入れ可能な担当者がいなくなった時点で止めます。
func (s *Service) DrainQueue(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := database.GetWaitingTicketIDs(s.db, 0)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return assigned, err
		}
		_, err := s.assignNextLocked(ctx, id)
		if err == nil {
			assigned++
			continue
		}
		if errors.Is(err, ErrNoAttendantAvailable) {
			break
		}
		if errors.Is(err, ErrNotWaiting) || errors.Is(err, database.ErrNotFound) {
			// 取得後に他の操作で状態が変わった
			continue
		}
		return assigned, err
	}

	if waiting, err := database.CountWaitingTickets(s.db); err == nil {
		metrics.SetQueueDepth(waiting)
	}
	if assigned > 0 {
		log.Printf("queue drain assigned %d ticket(s)", assigned)
	}
	return assigned, nil
}
