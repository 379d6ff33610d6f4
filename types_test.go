package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeFingerprint_Stable(t *testing.T) {
	a := ComputeFingerprint([]string{"mincblur", "in.mnc"}, []string{"in.mnc"})
	b := ComputeFingerprint([]string{"mincblur", "in.mnc"}, []string{"in.mnc"})

	assert.Equal(t, a, b)
	assert.Len(t, string(a), 64)
}

func TestComputeFingerprint_SensitiveToCommandAndInputs(t *testing.T) {
	base := ComputeFingerprint([]string{"mincblur", "in.mnc"}, []string{"in.mnc"})

	assert.NotEqual(t, base, ComputeFingerprint([]string{"mincblur", "other.mnc"}, []string{"in.mnc"}))
	assert.NotEqual(t, base, ComputeFingerprint([]string{"mincblur", "in.mnc"}, []string{"other.mnc"}))
	assert.NotEqual(t, base, ComputeFingerprint([]string{"mincblur", "in.mnc"}, nil))
}

func TestComputeFingerprint_TokenBoundariesMatter(t *testing.T) {
	// "ab" + "c" must not collide with "a" + "bc".
	assert.NotEqual(t,
		ComputeFingerprint([]string{"ab", "c"}, nil),
		ComputeFingerprint([]string{"a", "bc"}, nil))

	// A command token must not collide with an input path.
	assert.NotEqual(t,
		ComputeFingerprint([]string{"x"}, nil),
		ComputeFingerprint(nil, []string{"x"}))
}

func TestStageStatus_Terminal(t *testing.T) {
	assert.True(t, StageSucceeded.Terminal())
	assert.True(t, StagePermanentlyFailed.Terminal())
	assert.True(t, StageUnreachable.Terminal())

	assert.False(t, StagePending.Terminal())
	assert.False(t, StageRunnable.Terminal())
	assert.False(t, StageAssigned.Terminal())
	assert.False(t, StageRunning.Terminal())
	assert.False(t, StageFailed.Terminal())
}

func TestResourceHints_EffectiveSlots(t *testing.T) {
	assert.Equal(t, 1, ResourceHints{}.EffectiveSlots())
	assert.Equal(t, 4, ResourceHints{Slots: 4}.EffectiveSlots())
}

func TestCapacity_Fits(t *testing.T) {
	cap := Capacity{Slots: 2, MemoryGB: 8}

	assert.True(t, cap.Fits(ResourceHints{MemoryGB: 8, Slots: 2}))
	assert.True(t, cap.Fits(ResourceHints{MemoryGB: 1}))
	assert.False(t, cap.Fits(ResourceHints{MemoryGB: 9}))
	assert.False(t, cap.Fits(ResourceHints{Slots: 3}))
}

func TestSummary_OK(t *testing.T) {
	assert.True(t, Summary{Total: 3, Succeeded: 3}.OK())
	assert.False(t, Summary{Total: 3, PermanentlyFailed: 1}.OK())
	assert.False(t, Summary{Total: 3, Unreachable: 1}.OK())
}
