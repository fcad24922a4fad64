package sweep

import (
	"context"
	"log"
	"time"

	"video-lifecycle-service/internal/service"
)

// Sweeper runs the periodic recovery passes: reclaiming stalled and
// zombie leases, and dropping upload jobs whose token expired unused.
type Sweeper struct {
	lease     *service.LeaseService
	admission *service.AdmissionService
	interval  time.Duration
}

func New(lease *service.LeaseService, admission *service.AdmissionService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{lease: lease, admission: admission, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[sweep] started interval=%s", s.interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweep] stopped")
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	if _, _, err := s.lease.SweepStalled(ctx); err != nil {
		log.Printf("[sweep] stalled sweep error: %v", err)
	}
	if _, err := s.admission.SweepExpired(ctx); err != nil {
		log.Printf("[sweep] expired upload sweep error: %v", err)
	}
}
