package agent

import (
	"context"
	"log/slog"
	"time"

	"frontdesk/internal/domain"
)

// MemberLinks lists and removes session to member links.
type MemberLinks interface {
	ListLinkedMembers(ctx context.Context, since time.Time) (map[string][]string, error)
	UnlinkMember(ctx context.Context, tenantID, memberID string) (int64, error)
}

// Sweeper periodically marks sessions inactive after a stretch of silence
// and, when configured, drops links to members the CRM no longer knows.
type Sweeper struct {
	store        domain.Store
	links        MemberLinks
	directory    domain.MemberDirectory
	interval     time.Duration
	inactiveDays int
	now          func() time.Time
	logger       *slog.Logger
}

func NewSweeper(store domain.Store, interval time.Duration, inactiveDays int, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if inactiveDays <= 0 {
		inactiveDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, inactiveDays: inactiveDays, now: time.Now, logger: logger}
}

// WithMemberResync enables the member re-sync pass on every sweep.
func (s *Sweeper) WithMemberResync(links MemberLinks, directory domain.MemberDirectory) *Sweeper {
	s.links = links
	s.directory = directory
	return s
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("session sweep failed", "err", err)
		}
		if _, err := s.ResyncMembers(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("member re-sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce marks sessions silent for longer than the configured days inactive.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.inactiveDays)
	n, err := s.store.MarkInactive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("sessions marked inactive", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// ResyncMembers checks every member linked to a recently active session
// against the directory and unlinks the ones that have disappeared. It
// returns the number of sessions unlinked.
func (s *Sweeper) ResyncMembers(ctx context.Context) (int64, error) {
	if s.links == nil || s.directory == nil {
		return 0, nil
	}
	since := s.now().AddDate(0, 0, -s.inactiveDays)
	linked, err := s.links.ListLinkedMembers(ctx, since)
	if err != nil {
		return 0, err
	}
	var total int64
	for tenantID, members := range linked {
		for _, memberID := range members {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			m, err := s.directory.GetMember(ctx, tenantID, memberID)
			if err != nil {
				s.logger.Warn("member lookup failed", "tenant", tenantID, "member", memberID, "err", err)
				continue
			}
			if m != nil {
				continue
			}
			n, err := s.links.UnlinkMember(ctx, tenantID, memberID)
			if err != nil {
				return total, err
			}
			total += n
			s.logger.Info("unlinked vanished member", "tenant", tenantID, "member", memberID, "sessions", n)
		}
	}
	return total, nil
}
