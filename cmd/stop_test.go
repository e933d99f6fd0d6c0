package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRunStop_Success(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Stop", mock.Anything).Return(nil)

	var buf bytes.Buffer
	err := runStop(context.Background(), mockClient, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Daemon stopped successfully")
	mockClient.AssertExpectations(t)
}

func TestRunStop_NotRunning(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Stop", mock.Anything).Return(errors.New("daemon unreachable: dial unix: no such file or directory"))

	var buf bytes.Buffer
	err := runStop(context.Background(), mockClient, &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unreachable")
	assert.Empty(t, buf.String())
	mockClient.AssertExpectations(t)
}
