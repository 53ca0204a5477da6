package pagedesc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionLegalEdges(t *testing.T) {
	legal := []struct {
		from, to State
	}{
		{Free, Filling},
		{Filling, Present},
		{Present, Updating},
		{Updating, Present},
		{Present, Leaving},
		{Leaving, Free},
	}

	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}
}

func TestCanTransitionIllegalEdges(t *testing.T) {
	illegal := []struct {
		from, to State
	}{
		{Free, Present},
		{Free, Leaving},
		{Filling, Free},
		{Filling, Leaving},
		{Present, Free},
		{Updating, Free},
		{Updating, Leaving},
		{Leaving, Present},
		{Leaving, Filling},
	}

	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "FREE", Free.String())
	assert.Equal(t, "FILLING", Filling.String())
	assert.Equal(t, "PRESENT", Present.String())
	assert.Equal(t, "UPDATING", Updating.String())
	assert.Equal(t, "LEAVING", Leaving.String())
}

func TestErrInvalidTransitionMessage(t *testing.T) {
	err := ErrInvalidTransition{From: Free, To: Present}
	assert.Contains(t, err.Error(), "FREE")
	assert.Contains(t, err.Error(), "PRESENT")
}
