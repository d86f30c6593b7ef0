package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type result struct{ N int }

func TestSingleflight_DeduplicatesConcurrentCalls(t *testing.T) {
	s := New[result]()

	var (
		calls   atomic.Int32
		release = make(chan struct{})
		wg      sync.WaitGroup
	)

	const workers = 10
	results := make([]*result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Do("key", func() (*result, error) {
				calls.Add(1)
				<-release
				return &result{N: 7}, nil
			})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}

	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "only one caller may execute")
	for _, res := range results {
		require.Same(t, results[0], res, "all callers must share the result")
		require.Equal(t, 7, res.N)
	}
}

func TestSingleflight_DistinctKeysRunSeparately(t *testing.T) {
	s := New[result]()

	var calls atomic.Int32
	do := func(key string, n int) {
		res, err := s.Do(key, func() (*result, error) {
			calls.Add(1)
			return &result{N: n}, nil
		})
		require.NoError(t, err)
		require.Equal(t, n, res.N)
	}

	do("a", 1)
	do("b", 2)
	require.Equal(t, int32(2), calls.Load())
}

func TestSingleflight_ErrorPropagates(t *testing.T) {
	s := New[result]()

	boom := errors.New("boom")
	res, err := s.Do("key", func() (*result, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.Nil(t, res)
}
