package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	prod := Setup(false)
	require.Equal(t, zerolog.InfoLevel, prod.GetLevel())

	dev := Setup(true)
	require.Equal(t, zerolog.DebugLevel, dev.GetLevel())
	require.NotNil(t, zerolog.DefaultContextLogger)
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := base.WithContext(context.Background())

	ctx = WithFields(ctx, "creator_id", "c1", "customer_id", "m1")
	zerolog.Ctx(ctx).Info().Msg("hello")

	require.Contains(t, buf.String(), `"creator_id":"c1"`)
	require.Contains(t, buf.String(), `"customer_id":"m1"`)
}
