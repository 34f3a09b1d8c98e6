package simulate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSource_Deterministic(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestSource_ChanceBounds(t *testing.T) {
	s := New(1)
	for i := 0; i < 100; i++ {
		assert.False(t, s.Chance(0))
		assert.True(t, s.Chance(1))
	}
}

func TestSource_Between(t *testing.T) {
	s := New(7)
	for i := 0; i < 500; i++ {
		v := s.Between(70, 100)
		assert.GreaterOrEqual(t, v, 70)
		assert.LessOrEqual(t, v, 100)
	}
	assert.Equal(t, 5, s.Between(5, 5))
}

func TestSource_Duration(t *testing.T) {
	s := New(3)
	assert.Zero(t, s.Duration(0))
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, s.Duration(time.Second), time.Second)
	}
}

func TestPick(t *testing.T) {
	s := New(9)
	items := []string{"a", "b", "c"}
	for i := 0; i < 50; i++ {
		assert.Contains(t, items, Pick(s, items))
	}
}
