// Package memory provides an in-process persistence implementation used by
// tests and single-process development setups.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
)

// Persistence keeps all state in maps guarded by a mutex. Run locks are
// one-slot channels so waiting honours context cancellation. A run's lock is
// dropped once the run is terminal; terminal runs are never modified again, so
// a late waiter on a dropped lock only ever reads.
type Persistence struct {
	*automation.MemoryStore

	mu          sync.RWMutex
	automations map[string]models.Automation
	versions    map[string]models.AutomationVersion
	runs        map[string]models.AutomationRun
	nodeRuns    map[string]map[string]models.AutomationNodeRun
	locks       map[string]chan struct{}
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		MemoryStore: automation.NewMemoryStore(),
		automations: make(map[string]models.Automation),
		versions:    make(map[string]models.AutomationVersion),
		runs:        make(map[string]models.AutomationRun),
		nodeRuns:    make(map[string]map[string]models.AutomationNodeRun),
		locks:       make(map[string]chan struct{}),
	}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) SaveAutomation(_ context.Context, a *models.Automation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	a.UpdatedAt = now
	p.automations[a.ID] = *a

	return nil
}

func (p *Persistence) AutomationByID(_ context.Context, id string) (*models.Automation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.automations[id]
	if !ok {
		return nil, persistence.NewAutomationError("AutomationByID", id, persistence.ErrAutomationNotFound)
	}

	return &a, nil
}

func (p *Persistence) AutomationsByTriggerEvent(_ context.Context, tenantID, event string) ([]*models.Automation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*models.Automation, 0)

	for _, a := range p.automations {
		if a.TenantID == tenantID && a.TriggerEvent == event && a.Enabled {
			result = append(result, &a)
		}
	}

	slices.SortFunc(result, func(x, y *models.Automation) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})

	return result, nil
}

func (p *Persistence) CreateVersion(_ context.Context, version *models.AutomationVersion) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.versions {
		if existing.AutomationID == version.AutomationID && existing.Version == version.Version {
			return persistence.NewAutomationError("CreateVersion", version.AutomationID,
				fmt.Errorf("%w: version %d", persistence.ErrVersionExists, version.Version))
		}
	}

	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	p.versions[version.ID] = *version

	return nil
}

func (p *Persistence) VersionByID(_ context.Context, id string) (*models.AutomationVersion, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	version, ok := p.versions[id]
	if !ok {
		return nil, persistence.NewAutomationError("VersionByID", "", fmt.Errorf("%w: %s", persistence.ErrVersionNotFound, id))
	}

	return &version, nil
}

func (p *Persistence) LatestVersionNumber(_ context.Context, automationID string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	latest := 0

	for _, version := range p.versions {
		if version.AutomationID == automationID {
			latest = max(latest, version.Version)
		}
	}

	return latest, nil
}

func (p *Persistence) CreateRun(_ context.Context, run *models.AutomationRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.runs[run.ID]; exists {
		return persistence.NewRunError("CreateRun", run.ID, fmt.Errorf("run already exists"))
	}

	p.runs[run.ID] = cloneRun(*run)

	return nil
}

func (p *Persistence) RunByID(_ context.Context, id string) (*models.AutomationRun, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	run, ok := p.runs[id]
	if !ok {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	run = cloneRun(run)

	return &run, nil
}

func (p *Persistence) RunsByAutomation(_ context.Context, automationID string, limit int) ([]*models.AutomationRun, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	runs := make([]*models.AutomationRun, 0)

	for _, run := range p.runs {
		if run.AutomationID == automationID {
			run = cloneRun(run)
			runs = append(runs, &run)
		}
	}

	slices.SortFunc(runs, func(a, b *models.AutomationRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

func (p *Persistence) NodeRunsByRun(_ context.Context, runID string) ([]*models.AutomationNodeRun, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.runs[runID]; !ok {
		return nil, persistence.NewRunError("NodeRunsByRun", runID, persistence.ErrRunNotFound)
	}

	nodeRuns := make([]*models.AutomationNodeRun, 0, len(p.nodeRuns[runID]))

	for _, nodeRun := range p.nodeRuns[runID] {
		nodeRun = cloneNodeRun(nodeRun)
		nodeRuns = append(nodeRuns, &nodeRun)
	}

	slices.SortFunc(nodeRuns, func(a, b *models.AutomationNodeRun) int {
		return a.StartedAt.Compare(b.StartedAt)
	})

	return nodeRuns, nil
}

func (p *Persistence) WithRunLock(ctx context.Context, runID string, fn func(ctx context.Context, tx persistence.RunTx) error) error {
	p.mu.Lock()

	run, ok := p.runs[runID]
	if !ok {
		p.mu.Unlock()

		return persistence.NewRunError("WithRunLock", runID, persistence.ErrRunNotFound)
	}

	lock, ok := p.locks[runID]
	if !ok {
		lock = make(chan struct{}, 1)
		p.locks[runID] = lock
	}
	p.mu.Unlock()

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return persistence.NewRunError("WithRunLock", runID, ctx.Err())
	}

	defer func() { <-lock }()

	p.mu.RLock()
	run = cloneRun(p.runs[runID])
	p.mu.RUnlock()

	tx := &runTx{
		store:    p,
		run:      &run,
		nodeRuns: make(map[string]models.AutomationNodeRun),
	}

	err := fn(ctx, tx)
	if err != nil {
		return err
	}

	err = tx.commit()
	if err != nil {
		return err
	}

	if tx.run.IsTerminal() {
		p.mu.Lock()
		if p.locks[runID] == lock {
			delete(p.locks, runID)
		}
		p.mu.Unlock()
	}

	return nil
}

type runTx struct {
	store    *Persistence
	run      *models.AutomationRun
	runDirty bool
	nodeRuns map[string]models.AutomationNodeRun
}

func (tx *runTx) Run() *models.AutomationRun {
	return tx.run
}

func (tx *runTx) NodeRun(_ context.Context, nodeID string) (*models.AutomationNodeRun, error) {
	if nodeRun, ok := tx.nodeRuns[nodeID]; ok {
		nodeRun = cloneNodeRun(nodeRun)

		return &nodeRun, nil
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	nodeRun, ok := tx.store.nodeRuns[tx.run.ID][nodeID]
	if !ok {
		return nil, nil
	}

	nodeRun = cloneNodeRun(nodeRun)

	return &nodeRun, nil
}

func (tx *runTx) SaveNodeRun(ctx context.Context, nodeRun *models.AutomationNodeRun) error {
	existing, err := tx.NodeRun(ctx, nodeRun.NodeID)
	if err != nil {
		return err
	}

	if existing.Succeeded() {
		return persistence.NewRunError("SaveNodeRun", tx.run.ID,
			fmt.Errorf("%w: %s", persistence.ErrSuccessfulNodeRun, nodeRun.NodeID))
	}

	nodeRun.RunID = tx.run.ID
	tx.nodeRuns[nodeRun.NodeID] = cloneNodeRun(*nodeRun)

	return nil
}

func (tx *runTx) SaveRun(_ context.Context) error {
	tx.runDirty = true

	return nil
}

func (tx *runTx) commit() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if tx.runDirty {
		tx.store.runs[tx.run.ID] = cloneRun(*tx.run)
	}

	if len(tx.nodeRuns) == 0 {
		return nil
	}

	stored, ok := tx.store.nodeRuns[tx.run.ID]
	if !ok {
		stored = make(map[string]models.AutomationNodeRun)
		tx.store.nodeRuns[tx.run.ID] = stored
	}

	for nodeID, nodeRun := range tx.nodeRuns {
		stored[nodeID] = nodeRun
	}

	return nil
}

func cloneRun(run models.AutomationRun) models.AutomationRun {
	if run.FinishedAt != nil {
		finishedAt := *run.FinishedAt
		run.FinishedAt = &finishedAt
	}

	return run
}

func cloneNodeRun(nodeRun models.AutomationNodeRun) models.AutomationNodeRun {
	nodeRun.Input = maps.Clone(nodeRun.Input)
	nodeRun.Output = maps.Clone(nodeRun.Output)

	if nodeRun.FinishedAt != nil {
		finishedAt := *nodeRun.FinishedAt
		nodeRun.FinishedAt = &finishedAt
	}

	return nodeRun
}
