package bridge

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/plotstream/errors"
	"github.com/c360/plotstream/pkg/spatial"
	"github.com/c360/plotstream/plot"
	"github.com/c360/plotstream/types"
)

const (
	testSimTime = "data://world/default?p=sim_time"
	poseItem    = "data://world/default/model/box?p=pose/world_pose"
	robotItem   = "data://robot?p=pose/world_pose"
)

type fakeSub struct {
	unsubscribed bool
}

func (s *fakeSub) Unsubscribe() error {
	s.unsubscribed = true
	return nil
}

// fakeClient implements Client in-memory.
type fakeClient struct {
	mu sync.Mutex

	managers   []string
	registered map[string]bool
	items      []string

	newFilterErr  error
	updateErr     error
	subscribeErr  error
	filterPushes  [][]string
	newFilterSeen []string

	handler func(*types.ParamBatch)
	sub     *fakeSub
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		managers:   []string{"sim-a"},
		registered: map[string]bool{testSimTime: true},
		items:      []string{testSimTime, poseItem, robotItem},
	}
}

func (f *fakeClient) WaitForManagers(_ context.Context, _ time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.managers) == 0 {
		return nil, errors.ErrNoManagers
	}
	return f.managers, nil
}

func (f *fakeClient) IsRegistered(_, item string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[item], nil
}

func (f *fakeClient) Items(_ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeClient) NewFilter(_ string, items []string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newFilterErr != nil {
		return "", "", f.newFilterErr
	}
	f.newFilterSeen = append([]string(nil), items...)
	return "filter-1", "introspection.filter.filter-1", nil
}

func (f *fakeClient) UpdateFilter(_, _ string, items []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterPushes = append(f.filterPushes, append([]string(nil), items...))
	return f.updateErr
}

func (f *fakeClient) Subscribe(_ string, handler func(*types.ParamBatch)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.handler = handler
	f.sub = &fakeSub{}
	return f.sub, nil
}

func (f *fakeClient) deliver(batch *types.ParamBatch) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(batch)
	}
}

func (f *fakeClient) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.filterPushes)
}

func (f *fakeClient) lastPush() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.filterPushes) == 0 {
		return nil
	}
	return f.filterPushes[len(f.filterPushes)-1]
}

func startHandler(t *testing.T, client Client) *Handler {
	t.Helper()
	h := NewHandler(HandlerDeps{Client: client, SimTimeVar: testSimTime})
	h.Start()
	t.Cleanup(h.Stop)
	return h
}

func startActiveHandler(t *testing.T, client Client) *Handler {
	t.Helper()
	h := startHandler(t, client)
	require.Eventually(t, func() bool {
		return h.State() == StateActive
	}, time.Second, time.Millisecond)
	return h
}

func TestSetup_Success(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	assert.Equal(t, "sim-a", h.ManagerID())
	assert.Equal(t, []string{testSimTime}, fake.newFilterSeen)

	h.mu.Lock()
	assert.Equal(t, map[string]int{testSimTime: 1}, h.filterCount)
	h.mu.Unlock()
}

func TestSetup_FailuresLeaveHandlerInert(t *testing.T) {
	tests := []struct {
		name    string
		mod     func(*fakeClient)
		wantErr error
	}{
		{"no managers", func(f *fakeClient) { f.managers = nil }, errors.ErrNoManagers},
		{"empty manager id", func(f *fakeClient) { f.managers = []string{""} }, errors.ErrEmptyManagerID},
		{"sim time unregistered", func(f *fakeClient) { f.registered = map[string]bool{} }, errors.ErrItemNotRegistered},
		{"filter creation fails", func(f *fakeClient) { f.newFilterErr = stderrors.New("boom") }, errors.ErrFilterCreate},
		{"subscription fails", func(f *fakeClient) { f.subscribeErr = stderrors.New("boom") }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeClient()
			tt.mod(fake)

			h := startHandler(t, fake)
			require.Eventually(t, func() bool {
				return h.State() == StateInert
			}, time.Second, time.Millisecond)

			require.Error(t, h.SetupError())
			if tt.wantErr != nil {
				assert.ErrorIs(t, h.SetupError(), tt.wantErr)
			}
		})
	}
}

func TestSetup_SuccessHasNoError(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)
	assert.NoError(t, h.SetupError())
}

func TestAddCurve_DeadRefIsNoop(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	ref := table.Add(plot.NewCurve("dead"))
	table.Drop(ref)

	h.AddCurve(testSimTime, ref)
	assert.Equal(t, 0, h.CurveCount())
}

func TestAddCurve_Idempotent(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	ref := table.Add(plot.NewCurve("a"))

	name := poseItem + "/vector3/position/double/x"
	h.AddCurve(name, ref)
	h.AddCurve(name, ref)

	h.mu.Lock()
	assert.Len(t, h.curves[name], 1)
	h.mu.Unlock()
}

func TestAddCurve_FilterMatchesLessSpecificItem(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	ref := table.Add(plot.NewCurve("x position"))

	// The requested variable is more specific than the registered item;
	// the registered item is what goes into the filter.
	h.AddCurve(poseItem+"/vector3/position/double/x", ref)

	h.mu.Lock()
	_, inFilter := h.filter[poseItem]
	count := h.filterCount[poseItem]
	h.mu.Unlock()

	assert.True(t, inFilter)
	assert.Equal(t, 1, count)
	assert.Contains(t, fake.lastPush(), poseItem)
	assert.Contains(t, fake.lastPush(), testSimTime)
}

func TestFilter_RefCountAcrossDistinctNames(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	refX := table.Add(plot.NewCurve("x"))
	refY := table.Add(plot.NewCurve("y"))

	h.AddCurve(poseItem+"/vector3/position/double/x", refX)
	h.AddCurve(poseItem+"/vector3/position/double/y", refY)

	h.mu.Lock()
	assert.Equal(t, 2, h.filterCount[poseItem])
	h.mu.Unlock()
	pushesAfterAdd := fake.pushCount()

	// Dropping one name decrements but keeps the item.
	h.RemoveCurve(refX)
	h.mu.Lock()
	assert.Equal(t, 1, h.filterCount[poseItem])
	_, inFilter := h.filter[poseItem]
	h.mu.Unlock()
	assert.True(t, inFilter)
	assert.Equal(t, pushesAfterAdd, fake.pushCount(), "no push while count positive")

	// Dropping the last name removes the item and pushes the update.
	h.RemoveCurve(refY)
	h.mu.Lock()
	_, inFilter = h.filter[poseItem]
	_, inCount := h.filterCount[poseItem]
	h.mu.Unlock()
	assert.False(t, inFilter)
	assert.False(t, inCount)
	assert.NotContains(t, fake.lastPush(), poseItem)
}

func TestFilter_CountsTrackNamesNotCurves(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	name := poseItem + "/vector3/position/double/x"
	ref1 := table.Add(plot.NewCurve("first"))
	ref2 := table.Add(plot.NewCurve("second"))

	h.AddCurve(name, ref1)
	h.AddCurve(name, ref2)

	h.mu.Lock()
	assert.Equal(t, 1, h.filterCount[poseItem], "two curves under one name hold one reference")
	h.mu.Unlock()

	h.RemoveCurve(ref1)
	h.mu.Lock()
	assert.Equal(t, 1, h.filterCount[poseItem])
	h.mu.Unlock()

	h.RemoveCurve(ref2)
	h.mu.Lock()
	_, inFilter := h.filter[poseItem]
	h.mu.Unlock()
	assert.False(t, inFilter)
	assert.Equal(t, 0, h.CurveCount())
}

func TestFilter_UpdateFailureKeepsLocalState(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)
	fake.mu.Lock()
	fake.updateErr = stderrors.New("manager unreachable")
	fake.mu.Unlock()

	table := plot.NewTable()
	ref := table.Add(plot.NewCurve("x"))
	h.AddCurve(poseItem+"/vector3/position/double/x", ref)

	// Local state is mutated even though the remote push failed.
	h.mu.Lock()
	_, inFilter := h.filter[poseItem]
	h.mu.Unlock()
	assert.True(t, inFilter)
}

func TestFilter_InvalidNameIsNoop(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)
	pushes := fake.pushCount()

	table := plot.NewTable()
	ref := table.Add(plot.NewCurve("plain"))
	h.AddCurve("not a uri", ref)

	assert.Equal(t, 1, h.CurveCount())
	assert.Equal(t, pushes, fake.pushCount())
}

func TestRemoveCurve_UnknownRefIsNoop(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	registered := table.Add(plot.NewCurve("registered"))
	h.AddCurve(poseItem+"/vector3/position/double/x", registered)

	h.RemoveCurve(table.Add(plot.NewCurve("stranger")))
	assert.Equal(t, 1, h.CurveCount())
}

func TestRegistryNeverHoldsEmptySets(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	names := []string{
		poseItem + "/vector3/position/double/x",
		poseItem + "/vector3/position/double/y",
		robotItem + "/vector3/position/double/z",
	}

	var refs []plot.Ref
	for _, name := range names {
		ref := table.Add(plot.NewCurve(name))
		refs = append(refs, ref)
		h.AddCurve(name, ref)
	}

	for _, ref := range refs {
		h.RemoveCurve(ref)

		h.mu.Lock()
		for name, set := range h.curves {
			assert.NotEmpty(t, set, "entry %s must never be empty", name)
		}
		// The filter and its count map always share key sets.
		assert.Len(t, h.filterCount, len(h.filter))
		for item := range h.filter {
			assert.Positive(t, h.filterCount[item])
		}
		h.mu.Unlock()
	}

	assert.Equal(t, 0, h.CurveCount())
}

func TestDispatch_PoseExample(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	curve := plot.NewCurve("x position")
	ref := table.Add(curve)
	h.AddCurve(robotItem+"/vector3/position/double/x", ref)

	fake.deliver(&types.ParamBatch{Params: []types.Param{
		{Name: testSimTime, Value: types.Time(5.0)},
		{Name: robotItem, Value: types.Pose(spatial.Pose{
			Position:    spatial.Vector3{X: 1, Y: 2, Z: 3},
			Orientation: spatial.Identity(),
		})},
	}})

	require.Equal(t, 1, curve.Size())
	point := curve.Points()[0]
	assert.InDelta(t, 5.0, point.X, 1e-9)
	assert.InDelta(t, 1.0, point.Y, 1e-9)
}

func TestDispatch_SimTimeSharedAcrossBatch(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	curveA := plot.NewCurve("box x")
	curveB := plot.NewCurve("robot y")
	h.AddCurve(poseItem+"/vector3/position/double/x", table.Add(curveA))
	h.AddCurve(robotItem+"/vector3/position/double/y", table.Add(curveB))

	// Every sample in a batch carries that batch's sim time.
	fake.deliver(&types.ParamBatch{Params: []types.Param{
		{Name: testSimTime, Value: types.Time(2.5)},
		{Name: poseItem, Value: types.Pose(spatial.Pose{
			Position:    spatial.Vector3{X: 7, Y: 8, Z: 9},
			Orientation: spatial.Identity(),
		})},
		{Name: robotItem, Value: types.Pose(spatial.Pose{
			Position:    spatial.Vector3{X: 4, Y: 5, Z: 6},
			Orientation: spatial.Identity(),
		})},
	}})

	require.Equal(t, 1, curveA.Size())
	require.Equal(t, 1, curveB.Size())
	assert.Equal(t, plot.Point{X: 2.5, Y: 7}, curveA.Points()[0])
	assert.Equal(t, plot.Point{X: 2.5, Y: 5}, curveB.Points()[0])
}

func TestDispatch_PrefixResolutionFirstMatchWins(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	// Two entries under the same item: one parameter resolves to exactly
	// one of them, the lexicographically smallest.
	table := plot.NewTable()
	curveX := plot.NewCurve("x")
	curveY := plot.NewCurve("y")
	h.AddCurve(poseItem+"/vector3/position/double/x", table.Add(curveX))
	h.AddCurve(poseItem+"/vector3/position/double/y", table.Add(curveY))

	fake.deliver(&types.ParamBatch{Params: []types.Param{
		{Name: poseItem, Value: types.Pose(spatial.Pose{
			Position:    spatial.Vector3{X: 7, Y: 8, Z: 9},
			Orientation: spatial.Identity(),
		})},
	}})

	assert.Equal(t, 1, curveX.Size())
	assert.Equal(t, 0, curveY.Size())
}

func TestDispatch_MissingSimTimeDefaultsToZero(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	curve := plot.NewCurve("scalar")
	h.AddCurve(testSimTime, table.Add(curve))

	fake.deliver(&types.ParamBatch{Params: []types.Param{
		{Name: testSimTime, Value: types.Double(42)},
	}})

	require.Equal(t, 1, curve.Size())
	assert.Equal(t, plot.Point{X: 0, Y: 42}, curve.Points()[0])
}

func TestDispatch_DirectValueTypes(t *testing.T) {
	tests := []struct {
		name     string
		value    *types.ParamValue
		expected float64
	}{
		{"double", types.Double(1.5), 1.5},
		{"int", types.Int(-3), -3},
		{"bool true", types.Bool(true), 1},
		{"bool false", types.Bool(false), 0},
		{"time", types.Time(4.25), 4.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeClient()
			h := startActiveHandler(t, fake)

			table := plot.NewTable()
			curve := plot.NewCurve(tt.name)
			h.AddCurve(testSimTime, table.Add(curve))

			fake.deliver(&types.ParamBatch{Params: []types.Param{
				{Name: testSimTime, Value: tt.value},
			}})

			require.Equal(t, 1, curve.Size())
			assert.InDelta(t, tt.expected, curve.Points()[0].Y, 1e-9)
		})
	}
}

func TestDispatch_VectorComponents(t *testing.T) {
	vec := types.Vector3(spatial.Vector3{X: 1, Y: 2, Z: 3})

	tests := []struct {
		suffix   string
		expected float64
		appended bool
	}{
		{"x", 1, true},
		{"y", 2, true},
		{"z", 3, true},
		{"w", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.suffix, func(t *testing.T) {
			fake := newFakeClient()
			h := startActiveHandler(t, fake)

			table := plot.NewTable()
			curve := plot.NewCurve(tt.suffix)
			h.AddCurve(robotItem+"/vector3/position/double/"+tt.suffix, table.Add(curve))

			fake.deliver(&types.ParamBatch{Params: []types.Param{
				{Name: robotItem, Value: vec},
			}})

			if tt.appended {
				require.Equal(t, 1, curve.Size())
				assert.InDelta(t, tt.expected, curve.Points()[0].Y, 1e-9)
			} else {
				assert.Equal(t, 0, curve.Size())
			}
		})
	}
}

func TestDispatch_QuaternionAngles(t *testing.T) {
	quat := types.Quaternion(spatial.FromEuler(0.1, 0.2, 0.3))

	tests := []struct {
		name     string
		field    string
		expected float64
		appended bool
	}{
		{"roll", "roll", 0.1, true},
		{"pitch", "pitch", 0.2, true},
		{"yaw", "yaw", 0.3, true},
		// A query naming both pitch and yaw yields yaw: the yaw check
		// overwrites unconditionally.
		{"pitch and yaw", "pitch_yaw", 0.3, true},
		{"no angle", "magnitude", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeClient()
			h := startActiveHandler(t, fake)

			table := plot.NewTable()
			curve := plot.NewCurve(tt.name)
			h.AddCurve(robotItem+"/quaternion/double/"+tt.field, table.Add(curve))

			fake.deliver(&types.ParamBatch{Params: []types.Param{
				{Name: robotItem, Value: quat},
			}})

			if tt.appended {
				require.Equal(t, 1, curve.Size())
				assert.InDelta(t, tt.expected, curve.Points()[0].Y, 1e-9)
			} else {
				assert.Equal(t, 0, curve.Size())
			}
		})
	}
}

func TestDispatch_PoseOrientation(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	curve := plot.NewCurve("roll")
	h.AddCurve(robotItem+"/vector3/orientation/double/roll", table.Add(curve))

	fake.deliver(&types.ParamBatch{Params: []types.Param{
		{Name: robotItem, Value: types.Pose(spatial.Pose{
			Position:    spatial.Vector3{X: 1, Y: 2, Z: 3},
			Orientation: spatial.FromEuler(0.7, 0, 0),
		})},
	}})

	require.Equal(t, 1, curve.Size())
	assert.InDelta(t, 0.7, curve.Points()[0].Y, 1e-9)
}

func TestDispatch_InvalidParamsSkipped(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	curve := plot.NewCurve("x")
	h.AddCurve(robotItem+"/vector3/position/double/x", table.Add(curve))

	fake.deliver(&types.ParamBatch{Params: []types.Param{
		{Name: testSimTime, Value: types.Time(1.0)},
		{Name: "", Value: types.Double(9)},                       // unnamed
		{Name: robotItem},                                        // valueless
		{Name: "data://unknown/entity?p=x", Value: types.Int(1)}, // unresolvable
		{Name: robotItem, Value: &types.ParamValue{Type: types.TypePose}}, // missing field
		{Name: robotItem, Value: types.Pose(spatial.Pose{
			Position: spatial.Vector3{X: 6, Y: 0, Z: 0},
		})},
	}})

	// Exactly one valid sample, at the batch's sim time.
	require.Equal(t, 1, curve.Size())
	assert.Equal(t, plot.Point{X: 1.0, Y: 6}, curve.Points()[0])
}

func TestDispatch_OnlyFirstSimTimeUsed(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	curve := plot.NewCurve("x")
	h.AddCurve(robotItem+"/vector3/position/double/x", table.Add(curve))

	fake.deliver(&types.ParamBatch{Params: []types.Param{
		{Name: testSimTime, Value: types.Time(1.0)},
		{Name: testSimTime, Value: types.Time(99.0)},
		{Name: robotItem, Value: types.Vector3(spatial.Vector3{X: 5})},
	}})

	require.Equal(t, 1, curve.Size())
	assert.InDelta(t, 1.0, curve.Points()[0].X, 1e-9)
}

func TestDispatch_DeadCurveSkippedSilently(t *testing.T) {
	fake := newFakeClient()
	h := startActiveHandler(t, fake)

	table := plot.NewTable()
	live := plot.NewCurve("live")
	liveRef := table.Add(live)
	deadRef := table.Add(plot.NewCurve("doomed"))

	name := robotItem + "/vector3/position/double/x"
	h.AddCurve(name, liveRef)
	h.AddCurve(name, deadRef)
	table.Drop(deadRef)

	fake.deliver(&types.ParamBatch{Params: []types.Param{
		{Name: robotItem, Value: types.Vector3(spatial.Vector3{X: 4})},
	}})

	assert.Equal(t, 1, live.Size())
}

func TestStop_Unsubscribes(t *testing.T) {
	fake := newFakeClient()
	h := NewHandler(HandlerDeps{Client: fake, SimTimeVar: testSimTime})
	h.Start()
	require.Eventually(t, func() bool {
		return h.State() == StateActive
	}, time.Second, time.Millisecond)

	h.Stop()
	assert.Equal(t, StateStopped, h.State())
	assert.True(t, fake.sub.unsubscribed)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "inert", StateInert.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
