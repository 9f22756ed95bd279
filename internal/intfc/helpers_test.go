package intfc_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/intfc"
	"github.com/roach88/plexec/internal/logging"
	"github.com/roach88/plexec/internal/node"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/testutil"
	"github.com/roach88/plexec/internal/value"
)

// fakeAdapter records everything it is asked to do and answers lookups
// from a fixed table.
type fakeAdapter struct {
	mu           sync.Mutex
	values       map[string]value.Value
	reads        []string
	subscribed   []string
	unsubscribed []string
	commands     []*node.Command
	aborts       []*node.Command
	calls        []*node.FunctionCall
	updates      []*node.Update
	reporter     intfc.Reporter
	started      bool
	stopped      bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{values: map[string]value.Value{}}
}

func (a *fakeAdapter) Start(r intfc.Reporter) error {
	a.reporter = r
	a.started = true
	return nil
}

func (a *fakeAdapter) Stop() error {
	a.stopped = true
	return nil
}

func (a *fakeAdapter) LookupNow(state value.State) value.Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads = append(a.reads, state.Key())
	if v, ok := a.values[state.Key()]; ok {
		return v
	}
	return value.Unknown{}
}

func (a *fakeAdapter) SubscribeChange(state value.State, _ float64) {
	a.subscribed = append(a.subscribed, state.Key())
}

func (a *fakeAdapter) UnsubscribeChange(state value.State) {
	a.unsubscribed = append(a.unsubscribed, state.Key())
}

func (a *fakeAdapter) SubscribeFrequency(state value.State, _ float64) {
	a.subscribed = append(a.subscribed, "freq:"+state.Key())
}

func (a *fakeAdapter) UnsubscribeFrequency(state value.State) {
	a.unsubscribed = append(a.unsubscribed, "freq:"+state.Key())
}

func (a *fakeAdapter) ExecuteCommand(_ context.Context, cmd *node.Command) {
	a.commands = append(a.commands, cmd)
}

func (a *fakeAdapter) InvokeAbort(_ context.Context, cmd *node.Command) {
	a.aborts = append(a.aborts, cmd)
}

func (a *fakeAdapter) ExecuteFunctionCall(_ context.Context, call *node.FunctionCall) {
	a.calls = append(a.calls, call)
}

func (a *fakeAdapter) SendPlannerUpdate(_ context.Context, u *node.Update) {
	a.updates = append(a.updates, u)
}

// rig is an executive wired to a manager whose default adapter is a fake.
type rig struct {
	mgr     *intfc.Manager
	exec    *exec.Executive
	adapter *fakeAdapter
	rec     *testutil.RecordingListener
}

func newRig(t *testing.T, opts ...intfc.ManagerOption) *rig {
	t.Helper()
	a := newFakeAdapter()
	opts = append([]intfc.ManagerOption{intfc.WithManagerLogger(logging.NewNop())}, opts...)
	m := intfc.NewManager(intfc.NewRegistry(intfc.WithDefaultAdapter(a)), opts...)
	rec := testutil.NewRecordingListener()
	e := exec.New(m, m.Cache(),
		exec.WithLogger(logging.NewNop()),
		exec.WithListener(rec),
		exec.WithRunIDs(testutil.NewFixedRunIDs("run-test")),
	)
	m.SetExecutive(e)
	require.NoError(t, m.Start())
	return &rig{mgr: m, exec: e, adapter: a, rec: rec}
}

func (r *rig) step(t *testing.T, now float64) {
	t.Helper()
	require.NoError(t, r.exec.Step(context.Background(), now))
}

// drain processes the mailbox up to each mark until it is empty.
func (r *rig) drain() {
	for r.mgr.ProcessQueue(context.Background()) {
	}
}

type resourceUse struct {
	name     string
	priority int
	upper    float64
	release  bool
}

func commandNode(id string, uses ...resourceUse) *plan.Node {
	var res []plan.Resource
	for _, u := range uses {
		upper, release := u.upper, u.release
		res = append(res, plan.Resource{
			Name:                 u.name,
			Priority:             u.priority,
			UpperBound:           &upper,
			ReleaseAtTermination: &release,
		})
	}
	return &plan.Node{
		ID:      id,
		Type:    plan.TypeCommand,
		Command: &plan.Command{Name: "cmd_" + id, Resources: res},
	}
}

// batchDispatcher keeps the first command batch.
type batchDispatcher struct {
	cmds []*node.Command
}

func (d *batchDispatcher) ExecuteCommands(_ context.Context, cmds []*node.Command) {
	if d.cmds == nil {
		d.cmds = cmds
	}
}
func (d *batchDispatcher) InvokeAborts(context.Context, []*node.Command)              {}
func (d *batchDispatcher) SendUpdates(context.Context, []*node.Update)                {}
func (d *batchDispatcher) ExecuteFunctionCalls(context.Context, []*node.FunctionCall) {}

// commandBatch runs the command nodes under one list and returns the
// batch of commands the executive hands out, in queue order.
func commandBatch(t *testing.T, children ...*plan.Node) []*node.Command {
	t.Helper()
	d := &batchDispatcher{}
	e := exec.New(d, nil, exec.WithLogger(logging.NewNop()))
	require.NoError(t, e.AddPlan(&plan.Node{ID: "Root", Type: plan.TypeList, Children: children}))
	require.NoError(t, e.Step(context.Background(), 1))
	require.Len(t, d.cmds, len(children))
	return d.cmds
}
