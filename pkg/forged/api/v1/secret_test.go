package api_v1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	api_v1 "github.com/appforge/forge/pkg/forged/api/v1"
)

func TestValidateSecret(t *testing.T) {
	assert.NoError(t, api_v1.ValidateSecret("hunter2", "hunter2"))
	assert.Error(t, api_v1.ValidateSecret("hunter", "hunter2"))
	assert.Error(t, api_v1.ValidateSecret("", "hunter2"))
	assert.Error(t, api_v1.ValidateSecret("hunter2", ""))
	assert.Error(t, api_v1.ValidateSecret("", ""))
}
