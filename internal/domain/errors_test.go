package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "", CodeOf(nil))
	assert.Equal(t, CodeUnexpected, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeCancelled, CodeOf(ErrCancelled))

	wrapped := fmt.Errorf("batch 3: %w", fmt.Errorf("%w: 12 > 10", ErrListSizeExceeded))
	assert.Equal(t, CodeListSizeExceeded, CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrListSizeExceeded))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusInProgress.Terminal())
	for _, s := range []Status{StatusSuccess, StatusFailed, StatusCancelled} {
		assert.True(t, s.Terminal(), s)
	}
}
