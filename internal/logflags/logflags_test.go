package logflags

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLayers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(true, "binder, dap", "debug", &buf))
	t.Cleanup(func() { _ = Setup(false, "", "", nil) })

	assert.True(t, Enabled(LayerBinder))
	assert.True(t, Enabled(LayerDAP))
	assert.False(t, Enabled(LayerService))

	BinderLogger("console").Debug("bound")
	ServiceLogger().Error("hidden")

	out := buf.String()
	assert.Contains(t, out, "layer=binder")
	assert.Contains(t, out, "kind=console")
	assert.NotContains(t, out, "hidden")
}

func TestSetupDefaultsToService(t *testing.T) {
	require.NoError(t, Setup(true, "", "", &bytes.Buffer{}))
	t.Cleanup(func() { _ = Setup(false, "", "", nil) })

	assert.True(t, Enabled(LayerService))
	assert.Equal(t, logrus.InfoLevel, ServiceLogger().Logger.Level)
}

func TestSetupDisabled(t *testing.T) {
	require.NoError(t, Setup(false, "service", "", &bytes.Buffer{}))
	assert.False(t, Enabled(LayerService))
	assert.Equal(t, logrus.PanicLevel, EditorLogger().Logger.Level)
}

func TestSetupErrors(t *testing.T) {
	assert.ErrorIs(t, Setup(true, "bogus", "", nil), ErrUnknownLayer)
	assert.Error(t, Setup(true, "dap", "loud", nil))
	_ = Setup(false, "", "", nil)
}
