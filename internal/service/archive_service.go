package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/settlement"
)

// ArchiveConfig tunes the archive job.
type ArchiveConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// AutoFinalize finalizes resolved markets whose claim window has closed
	// before archiving them.
	AutoFinalize bool
	// LockTTL bounds how long one replica may hold a market's archive lock.
	LockTTL time.Duration
}

// ArchiveService periodically copies finalized markets to cold storage.
// Replicas coordinate through locks so each market is archived once.
type ArchiveService struct {
	markets  *MarketService
	archiver domain.Archiver
	locks    domain.LockManager
	cfg      ArchiveConfig
	logger   *slog.Logger
}

// NewArchiveService creates an ArchiveService. locks may be nil when a single
// replica runs the job.
func NewArchiveService(
	markets *MarketService,
	archiver domain.Archiver,
	locks domain.LockManager,
	cfg ArchiveConfig,
	logger *slog.Logger,
) *ArchiveService {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &ArchiveService{
		markets:  markets,
		archiver: archiver,
		locks:    locks,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "archive_service")),
	}
}

// Run sweeps immediately and then every Interval until ctx is done.
func (s *ArchiveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "archive_service: sweep failed",
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Finalized int
	Archived  int
	Skipped   int
}

// Sweep walks resolved markets once. A failure on one market is logged and
// the sweep moves on; the joined failures are returned.
func (s *ArchiveService) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	resolved, err := s.markets.ListMarkets(ctx, domain.ListOpts{Status: domain.MarketStatusResolved})
	if err != nil {
		return res, fmt.Errorf("archive_service: list resolved: %w", err)
	}

	now := s.markets.Program().Now()
	var errs []error
	for _, m := range resolved {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !m.Finalized {
			if !s.cfg.AutoFinalize || m.ClaimDeadline == nil || now.Before(*m.ClaimDeadline) {
				continue
			}
			if _, err := s.markets.FinalizeMarket(ctx, settlement.FinalizeParams{MarketID: m.ID}); err != nil {
				if !errors.Is(err, domain.ErrAlreadyFinalized) {
					errs = append(errs, err)
					continue
				}
			} else {
				res.Finalized++
			}
		}

		archived, err := s.archiveOne(ctx, m.ID)
		switch {
		case err != nil:
			errs = append(errs, err)
		case archived:
			res.Archived++
		default:
			res.Skipped++
		}
	}

	if res.Finalized > 0 || res.Archived > 0 {
		s.logger.InfoContext(ctx, "archive_service: sweep complete",
			slog.Int("finalized", res.Finalized),
			slog.Int("archived", res.Archived),
			slog.Int("skipped", res.Skipped),
		)
	}
	return res, errors.Join(errs...)
}

// archiveOne archives a finalized market it holds the lock for. It reports
// false when the market was already archived or another replica holds it.
func (s *ArchiveService) archiveOne(ctx context.Context, id uint64) (bool, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "archive:market:"+strconv.FormatUint(id, 10), s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("archive_service: lock market %d: %w", id, err)
		}
		defer unlock()
	}

	done, err := s.archiver.IsArchived(ctx, id)
	if err != nil {
		return false, fmt.Errorf("archive_service: check market %d: %w", id, err)
	}
	if done {
		return false, nil
	}

	snap, err := s.markets.Program().Snapshot(ctx, id)
	if err != nil {
		return false, fmt.Errorf("archive_service: snapshot market %d: %w", id, err)
	}
	path, err := s.archiver.ArchiveMarket(ctx, snap)
	if err != nil {
		return false, fmt.Errorf("archive_service: archive market %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "archive_service: market archived",
		slog.Uint64("market_id", id),
		slog.String("path", path),
		slog.Int("positions", len(snap.Positions)),
	)
	return true, nil
}
