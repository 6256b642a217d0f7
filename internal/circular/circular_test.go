package circular

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortestRelativeStep_Example(t *testing.T) {
	assert.Equal(t, int64(1280), ShortestRelativeStep(5760, 640, 6400))
	assert.Equal(t, int64(-1280), ShortestRelativeStep(640, 5760, 6400))
}

func TestShortestRelativeStep_Tie(t *testing.T) {
	// half a revolution away: both ways are equal, the positive move wins
	assert.Equal(t, int64(3200), ShortestRelativeStep(0, 3200, 6400))
	assert.Equal(t, int64(3200), ShortestRelativeStep(3200, 0, 6400))
	assert.Equal(t, int64(1), ShortestRelativeStep(0, 1, 2))
}

func TestShortestRelativeStep_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		modulus := 1 + rng.Int63n(100000)
		from := rng.Int63n(2_000_000) - 1_000_000
		to := rng.Int63n(2_000_000) - 1_000_000

		step := ShortestRelativeStep(from, to, modulus)

		// bounded to (-m/2, m/2]
		assert.True(t, 2*step > -modulus && 2*step <= modulus,
			"step %d out of range for modulus %d", step, modulus)
		// lands on the target
		assert.Equal(t, Normalize(to, modulus), Normalize(from+step, modulus))
		// identity
		assert.Zero(t, ShortestRelativeStep(from, from, modulus))
	}
}

func TestShortestRelativeStep_BadModulus(t *testing.T) {
	assert.Zero(t, ShortestRelativeStep(1, 5, 0))
	assert.Zero(t, ShortestRelativeStep(1, 5, -4))
}

func TestShortestRelativeFraction(t *testing.T) {
	assert.InDelta(t, 0.2, ShortestRelativeFraction(0.9, 0.1), 1e-12)
	assert.InDelta(t, -0.2, ShortestRelativeFraction(0.1, 0.9), 1e-12)
	assert.InDelta(t, 0.5, ShortestRelativeFraction(0, 0.5), 1e-12)
	assert.InDelta(t, 0, ShortestRelativeFraction(0.3, 0.3), 1e-12)

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 2000; i++ {
		from, to := rng.Float64(), rng.Float64()
		d := ShortestRelativeFraction(from, to)
		assert.True(t, d > -0.5 && d <= 0.5, "fraction %v out of range", d)

		landed := math.Mod(from+d+1, 1)
		diff := math.Abs(landed - to)
		assert.True(t, diff < 1e-9 || math.Abs(diff-1) < 1e-9, "from %v by %v missed %v", from, d, to)
	}
}

func TestStepTarget(t *testing.T) {
	assert.Equal(t, int64(0), StepTarget(0, 6400))
	assert.Equal(t, int64(1600), StepTarget(90, 6400))
	assert.Equal(t, int64(4800), StepTarget(-90, 6400))
	assert.Equal(t, int64(0), StepTarget(360, 6400))
	assert.Equal(t, int64(640), StepTarget(396, 6400))
}
