package taskselector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_WeightedDistribution(t *testing.T) {
	var countA, countB int
	tasks := []Task{
		{Name: "a", Method: "GET", Weight: 2, Fn: func() error { return nil }},
		{Name: "b", Method: "GET", Weight: 1, Fn: func() error { return nil }},
	}
	sel, err := New(tasks)
	require.NoError(t, err)

	const n = 900
	for i := 0; i < n; i++ {
		switch sel.Pick().Name {
		case "a":
			countA++
		case "b":
			countB++
		}
	}

	assert.Equal(t, n, countA+countB)
	assert.GreaterOrEqual(t, countA, 400)
	assert.LessOrEqual(t, countA, 800)
	assert.GreaterOrEqual(t, countB, 100)
	assert.LessOrEqual(t, countB, 500)

	ratio := float64(countA) / float64(countB)
	assert.GreaterOrEqual(t, ratio, 1.5)
	assert.LessOrEqual(t, ratio, 3.0)
}

func TestSelector_ZeroWeightTasksAreUniformWhenTotalIsZero(t *testing.T) {
	tasks := []Task{
		{Name: "a", Weight: 0, Fn: func() error { return nil }},
		{Name: "b", Weight: 0, Fn: func() error { return nil }},
	}
	sel, err := New(tasks)
	require.NoError(t, err)
	assert.Equal(t, 2, sel.Len())

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[sel.Pick().Name] = true
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])
}

func TestSelector_ZeroWeightTasksAreSkippedWhenOthersHaveWeight(t *testing.T) {
	tasks := []Task{
		{Name: "skip", Weight: 0, Fn: func() error { return nil }},
		{Name: "keep", Weight: 5, Fn: func() error { return nil }},
	}
	sel, err := New(tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, sel.Len())
	for i := 0; i < 20; i++ {
		assert.Equal(t, "keep", sel.Pick().Name)
	}
}

func TestSelector_PickIsSafeForConcurrentUse(t *testing.T) {
	tasks := []Task{
		{Name: "a", Weight: 1, Fn: func() error { return nil }},
		{Name: "b", Weight: 1, Fn: func() error { return nil }},
	}
	sel, err := New(tasks)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = sel.Pick()
			}
		}()
	}
	wg.Wait()
}

func TestNew_NoTasksIsAnError(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
