package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "parallel", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 14},
		{name: "negative", a: []float32{1, -1}, b: []float32{1, 1}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Dot(tt.a, tt.b), 1e-6)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 0, SquaredL2([]float32{1, 2}, []float32{1, 2}), 1e-6)
	assert.InDelta(t, 2, SquaredL2([]float32{0, 0}, []float32{1, 1}), 1e-6)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, 0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-6)

	// Zero-norm inputs must not divide by zero.
	assert.Equal(t, float32(0), Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	ok := NormalizeL2InPlace(v)
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1, Dot(v, v), 1e-6)

	_, ok = NormalizeL2Copy([]float32{0, 0, 0})
	assert.False(t, ok)

	src := []float32{1, 1}
	dst, ok := NormalizeL2Copy(src)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 1}, src, "source must not be mutated")
	assert.InDelta(t, 1, Dot(dst, dst), 1e-6)
}

func TestProvider(t *testing.T) {
	for _, m := range []Metric{MetricCosine, MetricDot, MetricL2} {
		fn, err := Provider(m)
		require.NoError(t, err, m.String())
		require.NotNil(t, fn)
	}

	_, err := Provider(Metric(99))
	require.Error(t, err)
}

func TestProviderL2SortsDescending(t *testing.T) {
	fn, err := Provider(MetricL2)
	require.NoError(t, err)

	q := []float32{0, 0}
	near := fn(q, []float32{1, 0})
	far := fn(q, []float32{5, 0})
	assert.Greater(t, near, far, "closer vector must score higher")
}
