package pagebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeWatermarkWorkedExamples(t *testing.T) {
	cases := []struct {
		capacity, percentage, want int
	}{
		{100, 75, 75},
		{100, 100, 100},
		{100, 0, 0},
		{10, 33, 3},
		{256, 50, 128},
		{256, 90, 230},
	}

	for _, tc := range cases {
		got := computeWatermark(tc.capacity, tc.percentage)
		assert.Equal(t, tc.want, got, "capacity=%d percentage=%d", tc.capacity, tc.percentage)
	}
}
