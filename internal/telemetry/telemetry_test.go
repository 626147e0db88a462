package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitProviderNoExporter(t *testing.T) {
	shutdown, err := InitProvider(ProviderConfig{ServiceName: "dice-test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSuspendPropagatesError(t *testing.T) {
	_, err := InitProvider(ProviderConfig{})
	require.NoError(t, err)

	wantErr := errors.New("boom")
	err = Suspend(context.Background(), SuspensionLLM, "ctx-1", func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestSuspendSucceeds(t *testing.T) {
	_, err := InitProvider(ProviderConfig{})
	require.NoError(t, err)

	called := false
	err = Suspend(context.Background(), SuspensionEmbedding, "ctx-1", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCorrelationIDEmptyWithoutSpan(t *testing.T) {
	assert.Equal(t, "", CorrelationID(context.Background()))
}
