// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

func TestPoolSubmit(t *testing.T) {
	pool := NewPool[int](4)
	defer pool.Release()

	futures := make([]*Future[int], 0, 8)
	for i := 0; i < 8; i++ {
		i := i
		f, err := pool.Submit(func() (int, error) { return i * 2, nil })
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for i, f := range futures {
		require.NoError(t, f.Err())
		assert.Equal(t, i*2, f.Value())
	}
	assert.Equal(t, 4, pool.Cap())
}

func TestPoolSubmitError(t *testing.T) {
	pool := NewPool[struct{}](1)
	defer pool.Release()

	boom := errors.New("boom")
	f, err := pool.Submit(func() (struct{}, error) { return struct{}{}, boom })
	require.NoError(t, err)
	assert.ErrorIs(t, f.Err(), boom)
	assert.Zero(t, f.Value())
}

func TestPoolNonBlockingOverload(t *testing.T) {
	pool := NewPool[struct{}](1, WithNonBlocking(true))
	defer pool.Release()

	release := make(chan struct{})
	started := make(chan struct{})
	f, err := pool.Submit(func() (struct{}, error) {
		close(started)
		<-release
		return struct{}{}, nil
	})
	require.NoError(t, err)
	<-started

	_, err = pool.Submit(func() (struct{}, error) { return struct{}{}, nil })
	assert.ErrorIs(t, err, merr.ErrServerBusy)
	assert.True(t, merr.IsRetryableErr(err))

	close(release)
	assert.NoError(t, f.Err())
}

func TestPoolPreHandler(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	pool := NewPool[struct{}](2, WithPreHandler(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer pool.Release()

	f, err := pool.Submit(func() (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)
	f.Value()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestPoolConcealPanic(t *testing.T) {
	recovered := make(chan any, 1)
	pool := NewPool[struct{}](1, WithPanicHandler(func(v any) { recovered <- v }))
	defer pool.Release()

	_, err := pool.Submit(func() (struct{}, error) { panic("worker exploded") })
	require.NoError(t, err)

	select {
	case v := <-recovered:
		assert.Equal(t, "worker exploded", v)
	case <-time.After(time.Second):
		t.Fatal("panic handler not called")
	}
}

func TestGo(t *testing.T) {
	f := Go(func() (string, error) { return "done", nil })
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("future not done")
	}
	require.NoError(t, f.Err())
	assert.Equal(t, "done", f.Value())

	pending := newFuture[int]()
	select {
	case <-pending.Done():
		t.Fatal("unfinished future reported done")
	default:
	}
}
