// SPDX-License-Identifier: MIT

package solver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtnav/rtnavd/internal/epoch"
	"github.com/rtnav/rtnavd/internal/gnss"
)

// stubEngine returns canned results keyed by epoch.
type stubEngine struct {
	mu    sync.Mutex
	solve func(ctx context.Context, in Input) (gnss.PVTSolution, error)
	calls int
}

func (e *stubEngine) Solve(ctx context.Context, in Input) (gnss.PVTSolution, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.solve(ctx, in)
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testEpoch(offset time.Duration) gnss.Epoch {
	base := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	return gnss.EpochOf(base.Add(offset), time.Second)
}

// testBundle builds a bundle whose single satellite has both a measurement
// and an ephemeris, so it survives BuildInput.
func testBundle(e gnss.Epoch) gnss.AlignedBundle {
	sat := gnss.SatID{Constellation: gnss.GPS, PRN: 1}
	var nav gnss.NavSnapshot
	nav = nav.With(gnss.Ephemeris{Sat: sat})
	return gnss.AlignedBundle{
		Epoch: e,
		Sats:  map[gnss.SatID]gnss.Measurement{sat: {Pseudorange: 2.2e7}},
		Nav:   nav,
	}
}

func runFeeder(t *testing.T, cfg Config, engine Engine, items []epoch.Finalized) []gnss.Outcome {
	t.Helper()

	f := NewFeeder(cfg, engine)
	in := make(chan epoch.Finalized)

	go func() {
		defer close(in)
		for _, item := range items {
			in <- item
		}
	}()

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background(), in) }()

	var out []gnss.Outcome
	for o := range f.Out() {
		out = append(out, o)
	}
	require.NoError(t, <-done)
	return out
}

func TestFeederClassifiesResults(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want gnss.FailureKind
	}{
		{"insufficient observations", ErrInsufficientObservations, gnss.FailInsufficientObs},
		{"config mismatch", ErrConfigMismatch, gnss.FailConfig},
		{"wrapped sentinel", errors.Join(errors.New("ctx"), ErrNonConvergence), gnss.FailNonConvergence},
		{"unknown error", errors.New("singular geometry matrix"), gnss.FailNonConvergence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{solve: func(context.Context, Input) (gnss.PVTSolution, error) {
				return gnss.PVTSolution{}, tt.err
			}}
			bundle := testBundle(testEpoch(0))
			out := runFeeder(t, Config{Timeout: time.Second}, engine,
				[]epoch.Finalized{{Bundle: &bundle}})

			require.Len(t, out, 1)
			require.NotNil(t, out[0].Failure)
			assert.Equal(t, tt.want, out[0].Failure.Kind)
			assert.Equal(t, bundle.Epoch, out[0].Epoch)
		})
	}
}

func TestFeederStampsFixEpoch(t *testing.T) {
	engine := &stubEngine{solve: func(_ context.Context, in Input) (gnss.PVTSolution, error) {
		return gnss.PVTSolution{LatDeg: 47.07, LonDeg: 15.43, Satellites: len(in.Candidates)}, nil
	}}
	bundle := testBundle(testEpoch(0))
	out := runFeeder(t, Config{Timeout: time.Second}, engine,
		[]epoch.Finalized{{Bundle: &bundle}})

	require.Len(t, out, 1)
	require.True(t, out[0].IsFix())
	assert.Equal(t, bundle.Epoch, out[0].Fix.Epoch)
	assert.Equal(t, 1, out[0].Fix.Satellites)
}

func TestFeederTimeoutDoesNotPoisonLaterEpochs(t *testing.T) {
	var calls int
	var mu sync.Mutex
	engine := &stubEngine{solve: func(ctx context.Context, in Input) (gnss.PVTSolution, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			<-ctx.Done() // hang until the invocation deadline
			return gnss.PVTSolution{}, ctx.Err()
		}
		return gnss.PVTSolution{}, nil
	}}

	b1 := testBundle(testEpoch(0))
	b2 := testBundle(testEpoch(time.Second))
	out := runFeeder(t, Config{Timeout: 20 * time.Millisecond}, engine,
		[]epoch.Finalized{{Bundle: &b1}, {Bundle: &b2}})

	require.Len(t, out, 2)
	require.NotNil(t, out[0].Failure)
	assert.Equal(t, gnss.FailTimeout, out[0].Failure.Kind)
	assert.True(t, out[1].IsFix(), "the epoch after a timeout must be solved independently")
}

func TestFeederSkipsEngineWithoutCandidates(t *testing.T) {
	engine := &stubEngine{solve: func(context.Context, Input) (gnss.PVTSolution, error) {
		return gnss.PVTSolution{}, nil
	}}

	// Measurements but no ephemeris: BuildInput drops the only satellite.
	bundle := gnss.AlignedBundle{
		Epoch: testEpoch(0),
		Sats: map[gnss.SatID]gnss.Measurement{
			{Constellation: gnss.GPS, PRN: 1}: {Pseudorange: 2.2e7},
		},
	}
	out := runFeeder(t, Config{Timeout: time.Second}, engine,
		[]epoch.Finalized{{Bundle: &bundle}})

	require.Len(t, out, 1)
	require.NotNil(t, out[0].Failure)
	assert.Equal(t, gnss.FailInsufficientObs, out[0].Failure.Kind)
	assert.Zero(t, engine.callCount(), "the engine must not run on an empty candidate set")
}

func TestFeederForwardsPreclassifiedOutcomes(t *testing.T) {
	engine := &stubEngine{solve: func(context.Context, Input) (gnss.PVTSolution, error) {
		return gnss.PVTSolution{}, nil
	}}

	e1, e2 := testEpoch(0), testEpoch(time.Second)
	discarded := gnss.NewFailure(e1, gnss.FailIncomplete, "no correction from B")
	bundle := testBundle(e2)

	out := runFeeder(t, Config{Timeout: time.Second}, engine, []epoch.Finalized{
		{Outcome: &discarded},
		{Bundle: &bundle},
	})

	require.Len(t, out, 2)
	assert.Equal(t, e1, out[0].Epoch)
	require.NotNil(t, out[0].Failure)
	assert.Equal(t, gnss.FailIncomplete, out[0].Failure.Kind)
	assert.Equal(t, e2, out[1].Epoch)
	assert.True(t, out[1].IsFix())
	assert.Equal(t, 1, engine.callCount())
}

func TestFeederReleasesOutcomesInOrder(t *testing.T) {
	// With overlap allowed, the first epoch solves slowest; outcomes must
	// still come out in submission order.
	var mu sync.Mutex
	delays := map[gnss.Epoch]time.Duration{
		testEpoch(0):               60 * time.Millisecond,
		testEpoch(time.Second):     20 * time.Millisecond,
		testEpoch(2 * time.Second): 0,
	}
	engine := &stubEngine{solve: func(_ context.Context, in Input) (gnss.PVTSolution, error) {
		mu.Lock()
		d := delays[in.Epoch]
		mu.Unlock()
		time.Sleep(d)
		return gnss.PVTSolution{}, nil
	}}

	var items []epoch.Finalized
	for i := 0; i < 3; i++ {
		b := testBundle(testEpoch(time.Duration(i) * time.Second))
		items = append(items, epoch.Finalized{Bundle: &b})
	}
	out := runFeeder(t, Config{Timeout: time.Second, MaxInFlight: 3}, engine, items)

	require.Len(t, out, 3)
	for i, o := range out {
		assert.Equal(t, testEpoch(time.Duration(i)*time.Second), o.Epoch, "outcome %d out of order", i)
	}
}

func TestBuildInputSortsAndDrops(t *testing.T) {
	satG2 := gnss.SatID{Constellation: gnss.GPS, PRN: 2}
	satG9 := gnss.SatID{Constellation: gnss.GPS, PRN: 9}
	satE1 := gnss.SatID{Constellation: gnss.Galileo, PRN: 1}

	var nav gnss.NavSnapshot
	nav = nav.With(gnss.Ephemeris{Sat: satG9})
	nav = nav.With(gnss.Ephemeris{Sat: satG2})

	bundle := gnss.AlignedBundle{
		Epoch: testEpoch(0),
		Sats: map[gnss.SatID]gnss.Measurement{
			satG9: {}, satG2: {}, satE1: {}, // E1 has no ephemeris
		},
		Nav: nav,
	}

	in, dropped := BuildInput(bundle)
	require.Len(t, in.Candidates, 2)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, satG2, in.Candidates[0].Sat)
	assert.Equal(t, satG9, in.Candidates[1].Sat)
}
