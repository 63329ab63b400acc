package utils_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mlops-pipeline/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInPool(t *testing.T) {
	worker := func(i int) (string, error) {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return "", fmt.Errorf("error %d", i)
		}
		return fmt.Sprintf("%d-%d", i, i), nil
	}

	inputs := make([]int, 10)
	for i := range inputs {
		inputs[i] = i
	}

	results := utils.RunInPool(context.Background(), worker, inputs, 5)

	success, errors := 0, 0
	for i, result := range results {
		assert.Equal(t, i, result.Index)
		if result.Error != nil {
			errors++
		} else {
			success++
			assert.Equal(t, fmt.Sprintf("%d-%d", i, i), result.Result)
		}
	}

	assert.Equal(t, 8, success)
	assert.Equal(t, 2, errors)
	assert.EqualError(t, utils.FirstError(results), "error 3")
}

func TestRunInPoolRecoversPanics(t *testing.T) {
	results := utils.RunInPool(context.Background(), func(i int) (int, error) {
		if i == 2 {
			var m map[string]int
			m["x"] = i
		}
		return i * 10, nil
	}, []int{1, 2, 3}, 2)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Error)
	assert.Equal(t, 30, results[2].Result)
	assert.ErrorIs(t, results[1].Error, utils.ErrTaskPanicked)
	assert.ErrorIs(t, utils.FirstError(results), utils.ErrTaskPanicked)
}

func TestRunInPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	results := utils.RunInPool(ctx, func(i int) (int, error) {
		calls++
		return i, nil
	}, []int{1, 2, 3}, 1)

	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, utils.FirstError(results), context.Canceled)
}

func TestRunInPoolEmpty(t *testing.T) {
	results := utils.RunInPool(context.Background(), func(i int) (int, error) { return i, nil }, nil, 4)
	assert.Empty(t, results)
	assert.NoError(t, utils.FirstError(results))
}
