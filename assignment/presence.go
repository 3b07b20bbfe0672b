package assignment

import (
	"context"
	"fmt"
	"time"

	"atende/config"
	"atende/database"
	"atende/events"
	"atende/metrics"
	"atende/model"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// SetOnline は担当者の在席状態を切り替えます。
// 離席時は対応中の atendimento を待ち行列へ戻し、どちらの場合も待ち行列を再配分します。
func (s *Service) SetOnline(ctx context.Context, attendantID string, online bool) ([]string, error) {
	requeued, err := s.setOnline(ctx, attendantID, online, "attendant went offline")
	if err != nil {
		return nil, err
	}
	if _, err := s.DrainQueue(ctx); err != nil {
		log.Printf("WARN: queue drain after presence change failed: %v", err)
	}
	return requeued, nil
}

func (s *Service) setOnline(ctx context.Context, attendantID string, online bool, note string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := database.SetAttendantOnlineInTx(tx, attendantID, online); err != nil {
		return nil, err
	}
	var requeued []string
	if !online {
		if requeued, err = RequeueInTx(tx, attendantID, note); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit presence change: %w", err)
	}

	for range requeued {
		metrics.RecordTransition(string(model.StatusWaiting))
	}
	events.Emit(ctx, s.pub, events.TypeAttendantPresence, PresenceEvent{
		AttendantID: attendantID,
		Online:      online,
		Requeued:    requeued,
	}, attendantID)
	return requeued, nil
}

// RequeueInTx は担当者が対応中の atendimento を待ち状態に戻し、戻した ID を返します。
func RequeueInTx(tx *sqlx.Tx, attendantID, note string) ([]string, error) {
	ids, err := database.GetInServiceTicketIDsByAttendantInTx(tx, attendantID)
	if err != nil {
		return nil, err
	}
	now := database.Now()
	for _, id := range ids {
		ticket, err := database.GetTicketForUpdateInTx(tx, id)
		if err != nil {
			return nil, err
		}
		ticket.Status = model.StatusWaiting
		ticket.AttendantID = ""
		ticket.AssignedAt = ""
		if err := database.UpdateTicketStateInTx(tx, ticket); err != nil {
			return nil, err
		}
		if err := database.InsertTicketEventInTx(tx, model.TicketEvent{
			TicketID:    id,
			FromStatus:  string(model.StatusInService),
			ToStatus:    string(model.StatusWaiting),
			AttendantID: attendantID,
			Note:        note,
			CreatedAt:   now,
		}); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// RemoveAttendant は担当中の atendimento を待ち行列へ戻してから担当者を削除します。
func (s *Service) RemoveAttendant(ctx context.Context, attendantID string) ([]string, error) {
	requeued, err := func() ([]string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to start transaction: %w", err)
		}
		defer tx.Rollback()

		requeued, err := RequeueInTx(tx, attendantID, "attendant removed")
		if err != nil {
			return nil, err
		}
		if err := database.DeleteAttendantInTx(tx, attendantID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit attendant removal: %w", err)
		}
		return requeued, nil
	}()
	if err != nil {
		return nil, err
	}
	if len(requeued) > 0 {
		if _, err := s.DrainQueue(ctx); err != nil {
			log.Printf("WARN: queue drain after attendant removal failed: %v", err)
		}
	}
	return requeued, nil
}

// UpdateAttendant は担当者情報を更新します。無効化された場合は対応中の atendimento を
// 待ち行列へ戻し、他の担当者へ再配分します。
func (s *Service) UpdateAttendant(ctx context.Context, a *model.Attendant) ([]string, error) {
	requeued, err := func() ([]string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to start transaction: %w", err)
		}
		defer tx.Rollback()

		current, err := database.GetAttendantByID(tx, a.ID)
		if err != nil {
			return nil, err
		}
		if err := database.UpdateAttendant(tx, a); err != nil {
			return nil, err
		}
		var requeued []string
		if current.Active && !a.Active {
			if requeued, err = RequeueInTx(tx, a.ID, "attendant deactivated"); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit attendant update: %w", err)
		}
		return requeued, nil
	}()
	if err != nil {
		return nil, err
	}
	if len(requeued) > 0 {
		for range requeued {
			metrics.RecordTransition(string(model.StatusWaiting))
		}
		log.WithField("attendant", a.ID).Infof("attendant deactivated, %d atendimento(s) requeued", len(requeued))
		if _, err := s.DrainQueue(ctx); err != nil {
			log.Printf("WARN: queue drain after attendant deactivation failed: %v", err)
		}
	}
	return requeued, nil
}

// SweepStale は一定時間ハートビートの無い担当者を離席扱いにします。
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	timeout := time.Duration(config.GetConfig().PresenceTimeoutMinutes) * time.Minute
	now, err := database.ParseTime(database.Now())
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-timeout).Format(database.TimeLayout)

	ids, err := database.GetStaleOnlineAttendantIDs(s.db, cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		log.WithField("attendant", id).Warn("presence timed out, marking offline")
		if _, err := s.setOnline(ctx, id, false, "presence timeout"); err != nil {
			return 0, err
		}
	}
	if len(ids) > 0 {
		if _, err := s.DrainQueue(ctx); err != nil {
			return len(ids), err
		}
	}
	return len(ids), nil
}
