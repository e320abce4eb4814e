package chunk

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errInvalid     = errors.New("invalid item")
	errUnavailable = errors.New("service unavailable")
)

func isInvalid(err error) bool { return errors.Is(err, errInvalid) }

func identity(n int64) int64 { return n }

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		units []int64
		limit int64
		want  [][]int64
	}{
		{"empty", nil, 10, nil},
		{"all fit", []int64{1, 2, 3}, 100, [][]int64{{1, 2, 3}}},
		{"unit reaching limit closes batch", []int64{5, 5, 5}, 10, [][]int64{{5, 5}, {5}}},
		{"oversized unit alone", []int64{50, 1, 1}, 10, [][]int64{{50}, {1, 1}}},
		{"zero limit one per batch", []int64{1, 2}, 0, [][]int64{{1}, {2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.units, identity, tt.limit))
		})
	}
}

func TestSplit_OneItemOverLimit(t *testing.T) {
	// N items of equal size whose total exceeds the limit by exactly one item.
	for n := 2; n <= 20; n++ {
		units := make([]int64, n)
		for i := range units {
			units[i] = 7
		}

		limit := int64(7 * (n - 1))
		total := int64(7 * n)
		batches := Split(units, identity, limit)

		minBatches := int((total + limit - 1) / limit)
		assert.GreaterOrEqual(t, len(batches), minBatches, "n=%d", n)

		seen := 0
		for _, b := range batches {
			seen += len(b)
		}

		assert.Equal(t, n, seen, "every item appears in exactly one batch (n=%d)", n)
	}
}

func TestSplit_PreservesIdentity(t *testing.T) {
	units := []int64{3, 9, 1, 4, 4, 8, 2}
	batches := Split(units, identity, 8)

	assert.Equal(t, units, slices.Concat(batches...))
}

// recordingSubmit rejects every batch that contains a bad item and records
// the size of each submitted batch.
func recordingSubmit(bad map[string]bool, sizes *[]int) SubmitFunc[string] {
	return func(_ context.Context, batch []string) error {
		*sizes = append(*sizes, len(batch))
		for _, item := range batch {
			if bad[item] {
				return errInvalid
			}
		}

		return nil
	}
}

func TestBisect_AllGood(t *testing.T) {
	var sizes []int

	report, err := Bisect(context.Background(), []string{"a", "b", "c", "d"},
		recordingSubmit(nil, &sizes), isInvalid, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{4}, sizes)
	assert.Equal(t, 4, report.Accepted)
	assert.Empty(t, report.Dropped)
	assert.Zero(t, report.MaxDepth)
}

func TestBisect_SingleBadItem(t *testing.T) {
	var (
		sizes   []int
		dropped []string
	)

	report, err := Bisect(context.Background(), []string{"a", "b", "c", "d"},
		recordingSubmit(map[string]bool{"b": true}, &sizes), isInvalid,
		func(item string, err error) {
			assert.ErrorIs(t, err, errInvalid)
			dropped = append(dropped, item)
		})
	require.NoError(t, err)

	// 4 fails -> {a,b} fails, {c,d} ok -> {a} ok, {b} dropped.
	assert.Equal(t, []int{4, 2, 1, 1, 2}, sizes)
	assert.Equal(t, 3, report.Accepted)
	assert.Equal(t, []string{"b"}, report.Dropped)
	assert.Equal(t, []string{"b"}, dropped)
	assert.Equal(t, 5, report.Calls)
	assert.Equal(t, 2, report.MaxDepth)
}

func TestBisect_EveryItemBad(t *testing.T) {
	var sizes []int

	bad := map[string]bool{"a": true, "b": true, "c": true, "d": true}
	report, err := Bisect(context.Background(), []string{"a", "b", "c", "d"},
		recordingSubmit(bad, &sizes), isInvalid, nil)
	require.NoError(t, err, "validation failures never fail the whole run")

	// {4} then {2,2} then {1,1,1,1}.
	assert.Equal(t, []int{4, 2, 1, 1, 2, 1, 1}, sizes)
	assert.Zero(t, report.Accepted)
	assert.Equal(t, []string{"a", "b", "c", "d"}, report.Dropped)
}

func TestBisect_FatalErrorStops(t *testing.T) {
	calls := 0
	submit := func(_ context.Context, batch []string) error {
		calls++
		if calls == 1 {
			return errInvalid
		}

		if slices.Contains(batch, "c") {
			return errUnavailable
		}

		return nil
	}

	report, err := Bisect(context.Background(), []string{"a", "b", "c", "d"}, submit, isInvalid, nil)
	require.ErrorIs(t, err, errUnavailable)

	assert.Equal(t, 3, report.Calls, "no further submissions after a fatal error")
	assert.Equal(t, 2, report.Accepted, "first half was accepted before the failure")
}

func TestBisect_UnavailableNotSplit(t *testing.T) {
	calls := 0
	submit := func(context.Context, []string) error {
		calls++
		return errUnavailable
	}

	_, err := Bisect(context.Background(), []string{"a", "b"}, submit, isInvalid, nil)
	require.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 1, calls)
}

func TestBisect_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Bisect(ctx, []string{"a"}, func(context.Context, []string) error { return nil }, isInvalid, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBisect_Empty(t *testing.T) {
	report, err := Bisect(context.Background(), nil, func(context.Context, []string) error {
		t.Fatal("submit must not be called for an empty batch")
		return nil
	}, isInvalid, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Calls)
}
