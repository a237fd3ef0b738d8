package kilorank

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := map[string]struct {
		err  error
		code int
	}{
		"nil":           {nil, 200},
		"plain":         {errors.New("boom"), 500},
		"status":        {ErrAlreadyFinalized, 409},
		"wrapped fmt":   {fmt.Errorf("contest 3: %w", ErrNotFound), 404},
		"wrapped error": {WrapError(ErrNotFound, "Couldn't load contest"), 404},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "unused"))

	err := WrapError(fmt.Errorf("contest 3: %w", ErrNotFound), "Couldn't rebuild leaderboard")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Couldn't rebuild leaderboard: contest 3: Not found", err.Error())
}
