package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOnCode(t *testing.T) {
	err := fmt.Errorf("create: %w", APIAlreadyExist.Withf("api POST /login already exists"))
	assert.True(t, errors.Is(err, APIAlreadyExist))
	assert.False(t, errors.Is(err, APINotFound))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, 0, CodeOf(nil))
	assert.Equal(t, -1, CodeOf(errors.New("boom")))
	assert.Equal(t, -9019, CodeOf(fmt.Errorf("wrapped: %w", TooManyNodes)))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "code -9007: cluster not found", ClusterNotFound.Error())
}
