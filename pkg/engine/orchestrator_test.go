package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
	"github.com/tallybook/automation/pkg/persistence/memory"
	"github.com/tallybook/automation/pkg/registry"
)

type stubRunner struct {
	nodeType string
	run      func(input map[string]any) (models.NodeResult, error)

	mu    sync.Mutex
	calls int
}

func (s *stubRunner) Type() string           { return s.nodeType }
func (s *stubRunner) Name() string           { return s.nodeType }
func (s *stubRunner) Description() string    { return "test runner" }
func (s *stubRunner) Schema() map[string]any { return nil }

func (s *stubRunner) Run(_ context.Context, _ *automation.Context, _ map[string]any, input map[string]any) (models.NodeResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.run == nil {
		return models.Succeed(map[string]any{"sent": true}), nil
	}

	return s.run(input)
}

func (s *stubRunner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

type finishedRun struct {
	status models.RunStatus
	nodeID string
}

type recordingDispatcher struct {
	mu       sync.Mutex
	jobs     []Job
	finished []finishedRun
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}

	d.jobs = append(d.jobs, job)

	return nil
}

func (d *recordingDispatcher) RunFinished(_ context.Context, run *models.AutomationRun, nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.finished = append(d.finished, finishedRun{status: run.Status, nodeID: nodeID})

	return nil
}

func (d *recordingDispatcher) pop() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.jobs) == 0 {
		return Job{}, false
	}

	job := d.jobs[0]
	d.jobs = d.jobs[1:]

	return job, true
}

func (d *recordingDispatcher) dispatched() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Job(nil), d.jobs...)
}

type harness struct {
	store        *memory.Persistence
	dispatcher   *recordingDispatcher
	orchestrator *Orchestrator
}

const testRunID = "run-1"

func newHarness(t *testing.T, definition models.Definition, runners ...*stubRunner) *harness {
	t.Helper()

	ctx := t.Context()
	logger := slog.New(slog.DiscardHandler)

	store := memory.NewPersistence()
	store.PutContact(automation.Contact{ID: "c-1", Name: "Ada Lovelace", Phone: "+15550100"})
	store.PutInvoice(automation.Invoice{ID: "inv-1", Number: "INV-001", Status: "sent", Total: 150, Currency: "EUR", ContactID: "c-1"})

	require.NoError(t, store.CreateVersion(ctx, &models.AutomationVersion{
		ID:           "version-1",
		AutomationID: "automation-1",
		Version:      1,
		Definition:   definition,
	}))

	require.NoError(t, store.CreateRun(ctx, &models.AutomationRun{
		ID:           testRunID,
		AutomationID: "automation-1",
		TenantID:     "tenant-1",
		VersionRef:   "version-1",
		SubjectType:  automation.SubjectTypeInvoice,
		SubjectID:    "inv-1",
		TriggerEvent: "invoice.sent",
		Status:       models.RunStatusPending,
		PendingNodes: 1,
		StartedAt:    time.Now().UTC(),
	}))

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultRunners(registry.Dependencies{})

	for _, runner := range runners {
		reg.Register(runner)
	}

	reg.Freeze()

	dispatcher := &recordingDispatcher{}

	return &harness{
		store:        store,
		dispatcher:   dispatcher,
		orchestrator: NewOrchestrator(logger, store, reg, automation.NewBuilder(store, store), dispatcher),
	}
}

// drain executes queued jobs until none are left, starting from entry.
func (h *harness) drain(t *testing.T, entry string, input map[string]any) {
	t.Helper()

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, entry, input))

	for range 100 {
		job, ok := h.dispatcher.pop()
		if !ok {
			return
		}

		require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), job.RunID, job.NodeID, job.Input))
	}

	t.Fatal("queue did not drain")
}

func (h *harness) run(t *testing.T) *models.AutomationRun {
	t.Helper()

	run, err := h.store.RunByID(t.Context(), testRunID)
	require.NoError(t, err)

	return run
}

func (h *harness) nodeRuns(t *testing.T) map[string]*models.AutomationNodeRun {
	t.Helper()

	nodeRuns, err := h.store.NodeRunsByRun(t.Context(), testRunID)
	require.NoError(t, err)

	byNode := make(map[string]*models.AutomationNodeRun, len(nodeRuns))
	for _, nodeRun := range nodeRuns {
		byNode[nodeRun.NodeID] = nodeRun
	}

	return byNode
}

func linearDefinition() models.Definition {
	return models.Definition{
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "send", Type: "send"},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{From: "start", To: "send"},
			{From: "send", To: "end"},
		},
	}
}

func TestExecuteNode_LinearGraphCompletes(t *testing.T) {
	t.Parallel()

	send := &stubRunner{nodeType: "send"}
	h := newHarness(t, linearDefinition(), send)

	h.drain(t, "start", map[string]any{"source": "test"})

	run := h.run(t)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.PendingNodes)
	assert.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.Error)

	nodeRuns := h.nodeRuns(t)
	require.Len(t, nodeRuns, 3)

	for _, nodeID := range []string{"start", "send", "end"} {
		require.Contains(t, nodeRuns, nodeID)
		assert.Equal(t, models.NodeRunStatusSuccess, nodeRuns[nodeID].Status, nodeID)
		assert.Equal(t, 1, nodeRuns[nodeID].Attempts, nodeID)
		assert.NotNil(t, nodeRuns[nodeID].FinishedAt, nodeID)
	}

	assert.Equal(t, 1, send.Calls())
	assert.Equal(t, []finishedRun{{status: models.RunStatusCompleted}}, h.dispatcher.finished)
}

func TestExecuteNode_SuccessorInputCarriesLastNode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, linearDefinition(), &stubRunner{nodeType: "send"})

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "start", map[string]any{"source": "test"}))
	job, ok := h.dispatcher.pop()
	require.True(t, ok)
	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), job.RunID, job.NodeID, job.Input))

	job, ok = h.dispatcher.pop()
	require.True(t, ok)
	assert.Equal(t, "end", job.NodeID)
	assert.Equal(t, "tenant-1", job.TenantID)
	assert.Equal(t, "test", job.Input["source"])
	assert.Equal(t, map[string]any{
		"id":     "send",
		"type":   "send",
		"output": map[string]any{"sent": true},
	}, job.Input[LastNodeKey])
}

func TestExecuteNode_ConditionFollowsOnlyMatchingBranch(t *testing.T) {
	t.Parallel()

	approve := &stubRunner{nodeType: "approve"}
	reject := &stubRunner{nodeType: "reject"}

	definition := models.Definition{
		Nodes: []*models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"field":    "{{amount}}",
				"operator": "greater_than",
				"value":    "100",
			}},
			{ID: "approve", Type: "approve"},
			{ID: "reject", Type: "reject"},
		},
		Edges: []models.Edge{
			{From: "check", To: "approve", Branch: models.BranchTrue},
			{From: "check", To: "reject", Branch: models.BranchFalse},
		},
	}

	h := newHarness(t, definition, approve, reject)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "check", map[string]any{"amount": 150}))

	jobs := h.dispatcher.dispatched()
	require.Len(t, jobs, 1)
	assert.Equal(t, "approve", jobs[0].NodeID)
	assert.Equal(t, 1, h.run(t).PendingNodes)

	check := h.nodeRuns(t)["check"]
	require.NotNil(t, check)
	assert.Equal(t, models.BranchTrue, check.Output["branch"])

	h.drain(t, "approve", jobs[0].Input)

	assert.Equal(t, 1, approve.Calls())
	assert.Zero(t, reject.Calls())
	assert.Equal(t, models.RunStatusCompleted, h.run(t).Status)
}

func TestExecuteNode_ConditionWithUnknownOperatorTakesFalseBranch(t *testing.T) {
	t.Parallel()

	approve := &stubRunner{nodeType: "approve"}
	reject := &stubRunner{nodeType: "reject"}

	definition := models.Definition{
		Nodes: []*models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"field":    "{{amount}}",
				"operator": "roughly",
				"value":    "100",
			}},
			{ID: "approve", Type: "approve"},
			{ID: "reject", Type: "reject"},
		},
		Edges: []models.Edge{
			{From: "check", To: "approve", Branch: models.BranchTrue},
			{From: "check", To: "reject", Branch: models.BranchFalse},
		},
	}

	h := newHarness(t, definition, approve, reject)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "check", map[string]any{"amount": 150}))

	jobs := h.dispatcher.dispatched()
	require.Len(t, jobs, 1)
	assert.Equal(t, "reject", jobs[0].NodeID)
	assert.Equal(t, models.RunStatusRunning, h.run(t).Status)
	assert.Equal(t, models.NodeRunStatusSuccess, h.nodeRuns(t)["check"].Status)
}

func TestExecuteNode_ConditionIgnoresUnlabelledEdges(t *testing.T) {
	t.Parallel()

	definition := models.Definition{
		Nodes: []*models.Node{
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]any{
				"field":    "{{amount}}",
				"operator": "less_than",
				"value":    10,
			}},
			{ID: "always", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{{From: "check", To: "always"}},
	}

	h := newHarness(t, definition)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "check", map[string]any{"amount": 150}))

	assert.Empty(t, h.dispatcher.dispatched())
	assert.Equal(t, models.RunStatusCompleted, h.run(t).Status)
}

func TestExecuteNode_UnsupportedNodeTypeFailsRun(t *testing.T) {
	t.Parallel()

	definition := models.Definition{
		Nodes: []*models.Node{
			{ID: "mystery", Type: "x"},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{{From: "mystery", To: "end"}},
	}

	h := newHarness(t, definition)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "mystery", nil))

	run := h.run(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "Unsupported node type [x].", run.Error)
	assert.Equal(t, 0, run.PendingNodes)
	assert.NotNil(t, run.FinishedAt)
	assert.Empty(t, h.dispatcher.dispatched())
	assert.Equal(t, []finishedRun{{status: models.RunStatusFailed, nodeID: "mystery"}}, h.dispatcher.finished)
}

func TestExecuteNode_RedeliveryOfSucceededNodeIsNoop(t *testing.T) {
	t.Parallel()

	send := &stubRunner{nodeType: "send"}
	h := newHarness(t, linearDefinition(), send)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "start", nil))
	require.Len(t, h.dispatcher.dispatched(), 1)

	before := h.run(t)
	nodeRunsBefore := h.nodeRuns(t)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "start", nil))

	assert.Len(t, h.dispatcher.dispatched(), 1)
	assert.Equal(t, before, h.run(t))
	assert.Equal(t, nodeRunsBefore, h.nodeRuns(t))
}

func TestExecuteNode_RunnerErrorFailsRun(t *testing.T) {
	t.Parallel()

	send := &stubRunner{nodeType: "send", run: func(map[string]any) (models.NodeResult, error) {
		return models.NodeResult{}, errors.New("smtp connection refused")
	}}
	h := newHarness(t, linearDefinition(), send)

	h.drain(t, "start", nil)

	run := h.run(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "smtp connection refused", run.Error)
	assert.Equal(t, 0, run.PendingNodes)

	nodeRuns := h.nodeRuns(t)
	require.Contains(t, nodeRuns, "send")
	assert.Equal(t, models.NodeRunStatusFailed, nodeRuns["send"].Status)
	assert.Equal(t, "smtp connection refused", nodeRuns["send"].Error)
	assert.NotContains(t, nodeRuns, "end")
}

func TestExecuteNode_RunnerPanicFailsRun(t *testing.T) {
	t.Parallel()

	send := &stubRunner{nodeType: "send", run: func(map[string]any) (models.NodeResult, error) {
		panic("nil map write")
	}}
	h := newHarness(t, linearDefinition(), send)

	h.drain(t, "start", nil)

	run := h.run(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "nil map write")

	nodeRuns := h.nodeRuns(t)
	require.Contains(t, nodeRuns, "send")
	assert.Equal(t, models.NodeRunStatusFailed, nodeRuns["send"].Status)
	assert.Contains(t, nodeRuns["send"].Error, ErrRunnerPanic.Error())
	assert.NotContains(t, nodeRuns, "end")
	assert.Empty(t, h.dispatcher.dispatched())
}

func TestExecuteNode_StructuredFailureKeepsOutput(t *testing.T) {
	t.Parallel()

	send := &stubRunner{nodeType: "send", run: func(map[string]any) (models.NodeResult, error) {
		return models.Failed("recipient rejected", map[string]any{"status_code": 422}), nil
	}}
	h := newHarness(t, linearDefinition(), send)

	h.drain(t, "start", nil)

	assert.Equal(t, "recipient rejected", h.run(t).Error)

	nodeRun := h.nodeRuns(t)["send"]
	require.NotNil(t, nodeRun)
	assert.Equal(t, 422, nodeRun.Output["status_code"])
}

func TestExecuteNode_FailedRunIsNotReexecuted(t *testing.T) {
	t.Parallel()

	attempts := 0
	send := &stubRunner{nodeType: "send", run: func(map[string]any) (models.NodeResult, error) {
		attempts++
		if attempts == 1 {
			return models.Failed("temporary", nil), nil
		}

		return models.Succeed(nil), nil
	}}

	definition := models.Definition{Nodes: []*models.Node{{ID: "send", Type: "send"}}}
	h := newHarness(t, definition, send)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "send", nil))
	require.Equal(t, models.RunStatusFailed, h.run(t).Status)

	// A failed run is terminal, so a later delivery does not run the node again.
	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "send", nil))

	assert.Equal(t, 1, send.Calls())
	assert.Equal(t, 1, h.nodeRuns(t)["send"].Attempts)
}

func TestExecuteNode_MissingNodeFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, linearDefinition(), &stubRunner{nodeType: "send"})

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "ghost", nil))

	run := h.run(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "Node [ghost] not found in automation definition.", run.Error)
	assert.Empty(t, h.nodeRuns(t))
}

func TestExecuteNode_InvalidConfigFailsRun(t *testing.T) {
	t.Parallel()

	definition := models.Definition{
		Nodes: []*models.Node{
			{ID: "notify", Type: models.NodeTypeLog, Config: map[string]any{"level": "loud"}},
		},
	}

	h := newHarness(t, definition)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "notify", nil))

	run := h.run(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, registry.ErrInvalidConfig.Error())
}

func TestExecuteNode_UnknownSubjectTypeFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, linearDefinition(), &stubRunner{nodeType: "send"})

	require.NoError(t, h.store.WithRunLock(t.Context(), testRunID, func(ctx context.Context, tx persistence.RunTx) error {
		tx.Run().SubjectType = "purchase_order"

		return tx.SaveRun(ctx)
	}))

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "start", nil))

	run := h.run(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, automation.ErrUnknownSubjectType.Error())
}

func TestExecuteNode_TerminalRunDiscardsJob(t *testing.T) {
	t.Parallel()

	send := &stubRunner{nodeType: "send"}
	h := newHarness(t, linearDefinition(), send)

	h.drain(t, "start", nil)
	completed := h.run(t)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "send", nil))

	assert.Equal(t, completed, h.run(t))
	assert.Equal(t, 1, send.Calls())
	assert.Empty(t, h.dispatcher.dispatched())
}

func TestExecuteNode_MissingRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, linearDefinition())

	err := h.orchestrator.ExecuteNode(t.Context(), "no-such-run", "start", nil)
	require.Error(t, err)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestExecuteNode_FanOutDeduplicatesAndJoins(t *testing.T) {
	t.Parallel()

	definition := models.Definition{
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "a", Type: models.NodeTypeEnd},
			{ID: "b", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{
			{From: "start", To: "a"},
			{From: "start", To: "b"},
			{From: "start", To: "a"},
		},
	}

	h := newHarness(t, definition)

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "start", nil))

	jobs := h.dispatcher.dispatched()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].NodeID)
	assert.Equal(t, "b", jobs[1].NodeID)
	assert.Equal(t, 2, h.run(t).PendingNodes)

	job, _ := h.dispatcher.pop()
	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), job.RunID, job.NodeID, job.Input))

	run := h.run(t)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 1, run.PendingNodes)

	job, _ = h.dispatcher.pop()
	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), job.RunID, job.NodeID, job.Input))

	run = h.run(t)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.PendingNodes)
}

func TestExecuteNode_ConcurrentDuplicatesExecuteOnce(t *testing.T) {
	t.Parallel()

	send := &stubRunner{nodeType: "send", run: func(map[string]any) (models.NodeResult, error) {
		time.Sleep(5 * time.Millisecond)

		return models.Succeed(nil), nil
	}}

	definition := models.Definition{
		Nodes: []*models.Node{
			{ID: "send", Type: "send"},
			{ID: "end", Type: models.NodeTypeEnd},
		},
		Edges: []models.Edge{{From: "send", To: "end"}},
	}

	h := newHarness(t, definition, send)

	var wg sync.WaitGroup

	errs := make(chan error, 10)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs <- h.orchestrator.ExecuteNode(t.Context(), testRunID, "send", nil)
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, send.Calls())
	assert.Len(t, h.dispatcher.dispatched(), 1)
	assert.Equal(t, 1, h.run(t).PendingNodes)
	assert.Equal(t, 1, h.nodeRuns(t)["send"].Attempts)
}

func TestExecuteNode_DispatchErrorIsReturned(t *testing.T) {
	t.Parallel()

	h := newHarness(t, linearDefinition(), &stubRunner{nodeType: "send"})
	h.dispatcher.err = errors.New("broker unavailable")

	err := h.orchestrator.ExecuteNode(t.Context(), testRunID, "start", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	// The state change was committed before dispatching.
	assert.Equal(t, models.NodeRunStatusSuccess, h.nodeRuns(t)["start"].Status)

	run := h.run(t)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "Failed to enqueue successor node [send].", run.Error)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, []finishedRun{{status: models.RunStatusFailed}}, h.dispatcher.finished)

	// Redelivery after the broker recovers finds a finished run.
	h.dispatcher.err = nil

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "start", nil))
	assert.Empty(t, h.dispatcher.dispatched())
	assert.Len(t, h.dispatcher.finished, 1)
}

func TestExecuteNode_RunningStatusWhileNodesPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, linearDefinition(), &stubRunner{nodeType: "send"})

	require.NoError(t, h.orchestrator.ExecuteNode(t.Context(), testRunID, "start", nil))

	run := h.run(t)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 1, run.PendingNodes)
	assert.Nil(t, run.FinishedAt)
}
