package introspection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/plotstream/natsclient"
	"github.com/c360/plotstream/pkg/spatial"
	"github.com/c360/plotstream/types"
)

const simTimeItem = "data://world/default?p=time/sim_time"

func setupManager(t *testing.T) (*natsclient.Client, *Manager) {
	t.Helper()

	tc := natsclient.NewTestClient(t)

	mgr := NewManager("sim-a", tc.Client)
	mgr.Register(simTimeItem, func() *types.ParamValue {
		return types.Time(5.0)
	})
	mgr.Register("data://world/default/model/box?p=pose/world_pose", func() *types.ParamValue {
		return types.Pose(spatial.Pose{
			Position:    spatial.Vector3{X: 1, Y: 2, Z: 3},
			Orientation: spatial.Identity(),
		})
	})
	require.NoError(t, mgr.Start())
	t.Cleanup(mgr.Stop)

	return tc.Client, mgr
}

func TestDiscoveryAndItems(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	nc, _ := setupManager(t)
	client := NewClient(nc)

	ids, err := client.WaitForManagers(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"sim-a"}, ids)

	registered, err := client.IsRegistered("sim-a", simTimeItem)
	require.NoError(t, err)
	assert.True(t, registered)

	registered, err = client.IsRegistered("sim-a", "data://world/default?p=bogus")
	require.NoError(t, err)
	assert.False(t, registered)

	items, err := client.Items("sim-a")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"data://world/default/model/box?p=pose/world_pose",
		simTimeItem,
	}, items)
}

func TestWaitForManagers_Timeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := natsclient.NewTestClient(t)
	client := NewClient(tc.Client)

	start := time.Now()
	_, err := client.WaitForManagers(context.Background(), 300*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestFilterLifecycleAndDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	nc, mgr := setupManager(t)
	client := NewClient(nc)

	filterID, topic, err := client.NewFilter("sim-a", []string{simTimeItem})
	require.NoError(t, err)
	require.NotEmpty(t, filterID)
	require.Equal(t, DeliveryTopic(filterID), topic)

	var mu sync.Mutex
	var batches []*types.ParamBatch
	sub, err := client.Subscribe(topic, func(b *types.ParamBatch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	require.NoError(t, mgr.Update())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	first := batches[0]
	mu.Unlock()

	// Only the filtered item is delivered.
	require.Len(t, first.Params, 1)
	assert.Equal(t, simTimeItem, first.Params[0].Name)
	assert.InDelta(t, 5.0, first.Params[0].Value.TimeValue.Seconds(), 1e-6)

	// Widen the filter, then verify both items arrive.
	require.NoError(t, client.UpdateFilter("sim-a", filterID, []string{
		simTimeItem,
		"data://world/default/model/box?p=pose/world_pose",
	}))

	mu.Lock()
	batches = nil
	mu.Unlock()

	require.NoError(t, mgr.Update())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0 && len(batches[0].Params) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Unknown filter ids are rejected.
	assert.Error(t, client.UpdateFilter("sim-a", "does-not-exist", nil))

	require.NoError(t, client.RemoveFilter("sim-a", filterID))
	assert.Error(t, client.RemoveFilter("sim-a", filterID))
}
