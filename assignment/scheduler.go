package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Scheduler は待ち行列の再配分と在席タイムアウトの掃除を定期実行します。
type Scheduler struct {
	svc  *Service
	cron *cron.Cron
}

// NewScheduler は interval ごとの再配分と1分ごとの掃除を登録します。
func NewScheduler(svc *Service, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{svc: svc, cron: c}

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), s.drain); err != nil {
		return nil, fmt.Errorf("failed to schedule queue drain: %w", err)
	}
	if _, err := c.AddFunc("@every 1m", s.sweep); err != nil {
		return nil, fmt.Errorf("failed to schedule presence sweep: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("assignment scheduler started")
}

// Stop は実行中のジョブの終了を ctx の期限まで待ちます。
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Println("WARN: assignment scheduler did not stop in time")
	}
}

func (s *Scheduler) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.svc.DrainQueue(ctx); err != nil {
		log.Printf("WARN: scheduled queue drain failed: %v", err)
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.svc.SweepStale(ctx); err != nil {
		log.Printf("WARN: scheduled presence sweep failed: %v", err)
	}
}
