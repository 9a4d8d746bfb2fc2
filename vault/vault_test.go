package vault

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type stubApp struct {
	runs atomic.Int32
	err  error
}

func (a *stubApp) Run(*Launcher) error {
	a.runs.Add(1)
	return a.err
}

type panicApp struct{}

func (panicApp) Run(*Launcher) error { panic("boom") }

func TestLauncherRunsEveryApp(t *testing.T) {
	first, second := &stubApp{}, &stubApp{err: errors.New("stopped badly")}

	l := NewLauncher(WithLogger(log.NewNop()), RunApp("first", first), RunApp("second", second), RunApp("panics", panicApp{}))

	err := l.RunWithError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: stopped badly")
	assert.Equal(t, int32(1), first.runs.Load())
	assert.Equal(t, int32(1), second.runs.Load())
}

func TestLauncherRejectsBadConfiguration(t *testing.T) {
	assert.ErrorIs(t, NewLauncher().RunWithError(), ErrLoggerNil)

	var nilLauncher *Launcher
	assert.ErrorIs(t, nilLauncher.RunWithError(), ErrNilLauncher)
	assert.ErrorIs(t, nilLauncher.Add("x", &stubApp{}), ErrNilLauncher)

	err := NewLauncher(WithLogger(log.NewNop()), RunApp(" ", &stubApp{}), RunApp("nil", nil)).RunWithError()
	assert.ErrorIs(t, err, ErrConfigFailed)
	assert.ErrorIs(t, err, ErrEmptyApp)
	assert.ErrorIs(t, err, ErrNilApp)
}

func TestTrackingFromContext(t *testing.T) {
	logger, tracer, headerID, factory := NewTrackingFromContext(context.Background())
	assert.NotNil(t, logger)
	assert.NotNil(t, tracer)
	assert.NotEmpty(t, headerID)
	assert.NotNil(t, factory)

	nop := log.NewNop()
	tr := noop.NewTracerProvider().Tracer("test")
	mf := metrics.NewNopFactory()

	ctx := ContextWithHeaderID(context.Background(), "req-1")
	parent := ctx
	ctx = ContextWithLogger(ctx, nop)
	ctx = ContextWithTracer(ctx, tr)
	ctx = ContextWithMetricFactory(ctx, mf)

	logger, tracer, headerID, factory = NewTrackingFromContext(ctx)
	assert.Same(t, nop, logger)
	assert.Equal(t, tr, tracer)
	assert.Equal(t, "req-1", headerID)
	assert.Same(t, mf, factory)
	assert.Same(t, nop, NewLoggerFromContext(ctx))

	_, parentTracer, _, _ := NewTrackingFromContext(parent)
	assert.NotEqual(t, tr, parentTracer)
}

func TestValidateBusinessError(t *testing.T) {
	wrapped := fmt.Errorf("withdraw: %w", constant.ErrCanNotBorrow)

	err := ValidateBusinessError(wrapped, "Vault")

	var response Response
	require.ErrorAs(t, err, &response)
	assert.Equal(t, "0005", response.Code)
	assert.Equal(t, "Cannot Borrow", response.Title)
	assert.Equal(t, "Vault", response.EntityType)
	assert.ErrorIs(t, err, constant.ErrCanNotBorrow)

	err = ValidateBusinessError(constant.ErrVaultNotFound, "Vault", "0xabc")
	require.ErrorAs(t, err, &response)
	assert.Contains(t, response.Message, "0xabc")

	unknown := errors.New("disk on fire")
	assert.Same(t, unknown, ValidateBusinessError(unknown, "Vault"))
	assert.NoError(t, ValidateBusinessError(nil, "Vault"))
}
