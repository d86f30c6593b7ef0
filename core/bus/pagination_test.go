package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func pageData(all []string) func(ctx context.Context, req PageRequest) ([]string, error) {
	return func(_ context.Context, req PageRequest) ([]string, error) {
		if req.Offset >= len(all) {
			return nil, nil
		}
		end := req.Offset + req.Limit
		if end > len(all) {
			end = len(all)
		}
		return all[req.Offset:end], nil
	}
}

func TestPaginate_WithCount(t *testing.T) {
	all := []string{"a", "b", "c", "d", "e"}
	count := func(context.Context) (int, error) { return len(all), nil }

	t.Run("first page", func(t *testing.T) {
		res, err := Paginate(t.Context(), PageRequest{Limit: 2}, pageData(all), count)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, res.Items)
		require.Equal(t, 5, res.Total)
		require.True(t, res.HasNext)
		require.False(t, res.HasPrev)
	})

	t.Run("last page", func(t *testing.T) {
		res, err := Paginate(t.Context(), PageRequest{Offset: 4, Limit: 2}, pageData(all), count)
		require.NoError(t, err)
		require.Equal(t, []string{"e"}, res.Items)
		require.False(t, res.HasNext)
		require.True(t, res.HasPrev)
	})
}

func TestPaginate_WithoutCount(t *testing.T) {
	all := []string{"a", "b", "c"}

	// a full page suggests more data
	res, err := Paginate(t.Context(), PageRequest{Limit: 3}, pageData(all), nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.True(t, res.HasNext)

	// a short page is the end
	res, err = Paginate(t.Context(), PageRequest{Offset: 2, Limit: 3}, pageData(all), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, res.Items)
	require.False(t, res.HasNext)
	require.True(t, res.HasPrev)
}

func TestPaginate_NormalizesRequest(t *testing.T) {
	var got PageRequest
	data := func(_ context.Context, req PageRequest) ([]string, error) {
		got = req
		return nil, nil
	}

	_, err := Paginate(t.Context(), PageRequest{Offset: -5, Limit: 0}, data, nil)
	require.NoError(t, err)
	require.Zero(t, got.Offset)
	require.Equal(t, 20, got.Limit)
}
