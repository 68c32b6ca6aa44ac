package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	name string
}

func (s *stubClient) Complete(context.Context, *CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Content: "ok"}, nil
}

func (s *stubClient) CompleteStream(context.Context, *CompletionRequest, StreamCallback) (*CompletionResponse, error) {
	return &CompletionResponse{Content: "ok"}, nil
}

func (s *stubClient) Name() string     { return s.name }
func (s *stubClient) Models() []string { return nil }

func TestRegistryUnconfigured(t *testing.T) {
	r := NewRegistry()
	_, err := r.Active()
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRegistryConfigureAndSwap(t *testing.T) {
	r := NewRegistry()
	r.Register("stub-a", func(Options) (Client, error) {
		return &stubClient{name: "stub-a"}, nil
	})
	r.Register("stub-b", func(Options) (Client, error) {
		return &stubClient{name: "stub-b"}, nil
	})

	require.NoError(t, r.Configure("stub-a", Options{Model: "m-a"}))
	active, err := r.Active()
	require.NoError(t, err)
	assert.Equal(t, "stub-a", active.Client.Name())
	assert.Equal(t, "m-a", active.Model)

	// reconfiguration replaces the active client atomically
	require.NoError(t, r.Configure("stub-b", Options{Model: "m-b"}))
	active, err = r.Active()
	require.NoError(t, err)
	assert.Equal(t, "stub-b", active.Client.Name())
	assert.Equal(t, "m-b", active.Model)
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	err := r.Configure("nope", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestRegistryFactoryFailureKeepsPrevious(t *testing.T) {
	r := NewRegistry()
	r.Register("good", func(Options) (Client, error) {
		return &stubClient{name: "good"}, nil
	})
	require.NoError(t, r.Configure("good", Options{}))

	// anthropic factory rejects an empty key; the active client stays
	err := r.Configure(ProviderAnthropic, Options{})
	require.Error(t, err)

	active, err := r.Active()
	require.NoError(t, err)
	assert.Equal(t, "good", active.Client.Name())
}

func TestRegistryProviders(t *testing.T) {
	r := NewRegistry()
	names := r.Providers()
	assert.Equal(t, []Provider{ProviderAnthropic, ProviderCompat, ProviderOpenAI}, names)
}
