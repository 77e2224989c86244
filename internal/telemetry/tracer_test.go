// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDisabledIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{ServiceName: "airwave"})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	// Spans from the noop provider never record.
	_, span := Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestNewProviderWithEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{
		ServiceName:    "airwave",
		ServiceVersion: "test",
		Endpoint:       "localhost:4318",
		SamplingRate:   0.5,
	})
	require.NoError(t, err)
	// The batcher only connects on export; shutdown flushes nothing here.
	assert.NoError(t, p.Shutdown(context.Background()))
}
