package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-recall/internal/lifecycle"
	"github.com/rcliao/agent-recall/internal/model"
)

// RunMaintenance runs one lifecycle pass for owner.
func (e *Engine) RunMaintenance(ctx context.Context, owner string) (lifecycle.Report, error) {
	if owner == "" {
		return lifecycle.Report{}, fmt.Errorf("maintenance: owner is required: %w", model.ErrInvalidInput)
	}
	return e.deps.Lifecycle.RunMaintenance(ctx, owner)
}

// RunMaintenanceAll runs a pass for every owner with stored memories, at
// most MaintenanceConcurrency at a time. A failing owner does not stop the
// others; reports come back sorted by owner along with every failure.
func (e *Engine) RunMaintenanceAll(ctx context.Context) ([]lifecycle.Report, error) {
	owners, err := e.deps.Store.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}

	var (
		mu      sync.Mutex
		reports []lifecycle.Report
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaintenanceConcurrency)
	for _, owner := range owners {
		g.Go(func() error {
			rep, err := e.deps.Lifecycle.RunMaintenance(gctx, owner)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.WithError(err).WithField("owner_id", owner).Error("maintenance failed")
				errs = append(errs, fmt.Errorf("owner %s: %w", owner, err))
				return nil
			}
			reports = append(reports, rep)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].Owner < reports[j].Owner })
	return reports, errors.Join(errs...)
}

// StartMaintenance runs RunMaintenanceAll every interval until ctx is done
// or the engine is closed. A zero interval uses the configured one; a
// negative interval disables the loop.
func (e *Engine) StartMaintenance(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = e.cfg.MaintenanceInterval
	}
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return
	}
	if e.stop != nil {
		e.stop()
	}
	e.stop = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reports, err := e.RunMaintenanceAll(ctx)
				if err != nil && ctx.Err() == nil {
					e.log.WithError(err).Warn("scheduled maintenance finished with errors")
				}
				e.log.WithField("owners", len(reports)).Debug("scheduled maintenance done")
			}
		}
	}()
}
