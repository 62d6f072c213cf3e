/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-concurrencylimit/testutil"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	return testutil.NewRedis(t)
}

// testSwitch is a SwitchStateProvider with a manually driven clock.
type testSwitch struct {
	mu    sync.Mutex
	state SwitchState
	err   error
	reads int
}

func newTestSwitch(mode Mode) *testSwitch {
	return &testSwitch{state: SwitchState{Mode: mode, ServerTime: testNow}}
}

func (s *testSwitch) GetSwitchState(context.Context) (SwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.state, s.err
}

func (s *testSwitch) setMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Mode = mode
}

func (s *testSwitch) setFrozen(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.FreezeActive = frozen
}

func (s *testSwitch) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ServerTime = s.state.ServerTime.Add(d)
}

func (s *testSwitch) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func newTestManager(client redis.Cmdable, sw SwitchStateProvider) *LeaseManager {
	keys := DefaultKeyLayout()
	return NewLeaseManager(sw,
		NewOrderedSetStrategy(client, keys),
		NewIndependentKeyStrategy(client, keys, IndependentKeyStrategyOpts{ScanCount: 10}),
		LeaseManagerOpts{Keys: keys})
}

// pipelineRecorder records sizes of pipelines whose first command has one of the given names.
type pipelineRecorder struct {
	mu    sync.Mutex
	names map[string]bool
	sizes []int
}

func newPipelineRecorder(names ...string) *pipelineRecorder {
	r := &pipelineRecorder{names: make(map[string]bool)}
	for _, n := range names {
		r.names[n] = true
	}
	return r
}

func (r *pipelineRecorder) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (r *pipelineRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (r *pipelineRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if len(cmds) > 0 && r.names[cmds[0].Name()] {
			r.mu.Lock()
			r.sizes = append(r.sizes, len(cmds))
			r.mu.Unlock()
		}
		return next(ctx, cmds)
	}
}

func (r *pipelineRecorder) recorded() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.sizes...)
}
