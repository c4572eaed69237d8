package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishTagsError(t *testing.T) {
	tracer := mocktracer.New()
	prev := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(prev) })

	span, _ := Start(context.Background(), "ok")
	Finish(span, nil)
	span, _ = Start(context.Background(), "failed")
	Finish(span, errors.New("boom"))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "ok", spans[0].OperationName)
	assert.Nil(t, spans[0].Tag("error"))
	assert.Equal(t, true, spans[1].Tag("error"))
	require.Len(t, spans[1].Logs(), 1)
}

func TestInitTracerRequiresServiceName(t *testing.T) {
	_, _, err := InitTracer(Config{Host: "localhost", Port: 6831})
	require.Error(t, err)
}
