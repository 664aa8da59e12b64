package simulator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/simulator"
	"github.com/srg/sdcmon/internal/testutils"
)

func newNetwork(t *testing.T, devices int) *simulator.Network {
	t.Helper()
	logger, _ := testutils.NewTestLogger()
	n := simulator.New(&simulator.Options{Devices: devices, Interval: 5 * time.Millisecond, Seed: 7}, logger)
	require.NoError(t, n.Start())
	return n
}

func TestProviderIdentityIsStable(t *testing.T) {
	a := simulator.NewProvider(0)
	b := simulator.NewProvider(0)
	c := simulator.NewProvider(1)

	assert.Equal(t, a.ID, b.ID, "identity MUST be derived deterministically from the index")
	assert.NotEqual(t, a.ID, c.ID, "providers MUST have distinct identities")
	assert.Contains(t, a.ID, "urn:uuid:")
}

func TestAdvertisementNormalizes(t *testing.T) {
	// GOAL: Verify simulated advertisements carry what discovery extracts
	//
	// TEST SCENARIO: Search → normalize each record → name, host and location are populated

	n := newNetwork(t, 2)

	var records []device.ServiceRecord
	require.NoError(t, n.SearchServices(context.Background(), []string{"dpws:Device"}, func(r device.ServiceRecord) {
		records = append(records, r)
	}))
	require.Len(t, records, 2)

	rec, err := device.NewRecord(records[0], time.Now())
	require.NoError(t, err)
	assert.Equal(t, "SimMonitor-01", rec.Name)
	assert.Equal(t, "127.0.0.1", rec.NetworkAddress)
	assert.Equal(t, device.LocationInfo{Facility: "HOSP", PoC: "ICU", Bed: "Bed01"}, rec.Location)
}

func TestSearchRequiresStart(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	n := simulator.New(nil, logger)

	err := n.SearchServices(context.Background(), nil, func(device.ServiceRecord) {})

	assert.ErrorIs(t, err, simulator.ErrNotStarted)
}

func TestOpenSessionUnknownProvider(t *testing.T) {
	n := newNetwork(t, 1)

	_, err := n.OpenSession(context.Background(), testutils.NewServiceRecord("urn:uuid:nobody").Build())

	assert.ErrorIs(t, err, simulator.ErrUnknownProvider)
}

func TestSessionReportsUntilUnsubscribed(t *testing.T) {
	// GOAL: Verify a session reports batches on a ticker and stops on Unsubscribe
	//
	// TEST SCENARIO: Subscribe → receive batches within range → Unsubscribe → no further batches

	n := newNetwork(t, 1)
	p := n.Providers()[0]

	sess, err := n.OpenSession(context.Background(), testutils.NewServiceRecord(p.ID).Build())
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		batches []device.RawBatch
	)
	require.NoError(t, sess.Subscribe(func(b device.RawBatch) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, b)
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) >= 6
	}, time.Second, 5*time.Millisecond, "session MUST report periodically")

	require.NoError(t, sess.Unsubscribe())
	mu.Lock()
	count := len(batches)
	snapshot := append([]device.RawBatch(nil), batches...)
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, count, len(batches), "no batches MUST arrive after Unsubscribe")
	mu.Unlock()

	for i, b := range snapshot {
		loop := i + 1
		cvp, ok := b["metric.cvp"].Value.(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, cvp, 90.0)
		assert.LessOrEqual(t, cvp, 100.0)

		ibp := b["metric.ibp.mean"].Value.(float64)
		assert.InDelta(t, 65.0, ibp, 5.0)

		_, hasPAP := b["metric.pap.mean"]
		assert.Equal(t, loop%6 == 0, hasPAP, "PAP MUST be reported every sixth loop only")
	}

	desc, err := sess.ResolveDescriptor("metric.hr")
	require.NoError(t, err)
	assert.Equal(t, "bpm", desc.Unit)

	desc, err = sess.ResolveDescriptor("metric.unknown")
	assert.NoError(t, err)
	assert.Nil(t, desc)

	require.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.Subscribe(func(device.RawBatch) {}), simulator.ErrSessionClosed)
}

func TestDropSignalsDisconnect(t *testing.T) {
	n := newNetwork(t, 1)
	p := n.Providers()[0]

	sess, err := n.OpenSession(context.Background(), testutils.NewServiceRecord(p.ID).Build())
	require.NoError(t, err)
	notifier, ok := sess.(device.DisconnectNotifier)
	require.True(t, ok)

	assert.True(t, n.Drop(p.ID))
	assert.False(t, n.Drop(p.ID), "second drop MUST report no open session")

	select {
	case <-notifier.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("Disconnected MUST be closed after Drop")
	}
	assert.NoError(t, sess.Close())
}

func TestSessionListsProviderHandles(t *testing.T) {
	n := newNetwork(t, 1)
	p := n.Providers()[0]

	sess, err := n.OpenSession(context.Background(), testutils.NewServiceRecord(p.ID).Build())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	lister, ok := sess.(device.HandleLister)
	require.True(t, ok, "simulated sessions MUST enumerate their handles")
	assert.Equal(t, p.Handles(), lister.Handles())
	assert.Contains(t, lister.Handles(), "metric.hr")
}
