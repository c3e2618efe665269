// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderNoopWithoutEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{ServiceName: "mediagrab"})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestTracerReturnsTracer(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)
	assert.NotNil(t, Tracer("test"))
}
