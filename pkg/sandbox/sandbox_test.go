package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackTemplateChain(t *testing.T) {
	assert.Equal(t, "node-standard", FallbackTemplate("node-large"))
	assert.Equal(t, "node-small", FallbackTemplate("node-standard"))
	assert.Equal(t, "node-micro", FallbackTemplate("node-small"))
	assert.Equal(t, "", FallbackTemplate("node-micro"))
	assert.Equal(t, "", FallbackTemplate("unknown"))
}

func TestFakeProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewFakeProvider()

	sb, err := p.Create(ctx, DefaultTemplate)
	require.NoError(t, err)
	require.NotEmpty(t, sb.ID())

	require.NoError(t, sb.WriteFile(ctx, "index.js", []byte("console.log('hi')")))
	data, ok := p.Get(sb.ID()).File("index.js")
	require.True(t, ok)
	assert.Equal(t, "console.log('hi')", string(data))

	res, err := sb.Run(ctx, "npm install", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	res, err = sb.Run(ctx, "node index.js", RunOptions{Background: true})
	require.NoError(t, err)
	assert.NotZero(t, res.PID)

	url, err := sb.Host(ctx, 3000)
	require.NoError(t, err)
	assert.Contains(t, url, sb.ID())
	assert.Contains(t, url, ":3000")

	require.NoError(t, p.Scale(ctx, sb.ID(), 3))
	assert.Equal(t, 3, p.Get(sb.ID()).Instances)

	require.NoError(t, sb.Destroy(ctx))
	assert.Equal(t, 0, p.Live())

	_, err = sb.Host(ctx, 3000)
	assert.Error(t, err)
}

func TestFakeProviderCreateErrs(t *testing.T) {
	ctx := context.Background()
	p := NewFakeProvider()
	p.CreateErrs = []error{assert.AnError, nil}

	_, err := p.Create(ctx, "node-large")
	require.Error(t, err)

	sb, err := p.Create(ctx, "node-standard")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-large", "node-standard"}, p.CreatedTemplates)
	assert.Equal(t, "node-standard", p.Get(sb.ID()).Template())
}
