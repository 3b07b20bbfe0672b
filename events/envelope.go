// Package events はドメインイベント (atendimento/atendente/order) の配信を扱います。
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// イベント種別 (ルーティングキーとしても使う)
const (
	TypeTicketCreated     = "atendimento.created"
	TypeTicketAssigned    = "atendimento.assigned"
	TypeTicketStatus      = "atendimento.status_changed"
	TypeTicketTransferred = "atendimento.transferred"
	TypeAttendantPresence = "atendente.presence"
	TypeOrderCreated      = "order.created"
	TypeOrderPaid         = "order.paid"
	TypeOrderStatus       = "order.status_changed"
)

const Producer = "atende"

type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope は ID と時刻を採番したエンベロープを作ります。correlationID が空なら ID を流用します。
func NewEnvelope(eventType string, data any, correlationID string) Envelope {
	id := uuid.NewString()
	if correlationID == "" {
		correlationID = id
	}
	return Envelope{
		Meta: Meta{
			ID:            id,
			CorrelationID: correlationID,
			Producer:      Producer,
			Time:          time.Now().UTC(),
			Type:          eventType,
		},
		Data: data,
	}
}

// Publisher はイベントの配信先です。
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Emit はエンベロープを組み立てて配信します。配信失敗は業務処理を止めないため、ログに残すだけです。
func Emit(ctx context.Context, pub Publisher, eventType string, data any, correlationID string) {
	if pub == nil {
		return
	}
	env := NewEnvelope(eventType, data, correlationID)
	if err := pub.Publish(ctx, env); err != nil {
		log.WithFields(log.Fields{"type": eventType, "id": env.Meta.ID}).Printf("WARN: failed to publish event: %v", err)
	}
}
