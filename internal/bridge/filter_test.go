package bridge

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/terabithia/internal/channel"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
)

func TestDomainCounterpart(t *testing.T) {
	assert.Equal(t, Main, Isolated.Counterpart())
	assert.Equal(t, Isolated, Main.Counterpart())
	assert.Equal(t, Domain(""), Domain("WORKER").Counterpart())
}

func TestParseDomain(t *testing.T) {
	tests := []struct {
		in      string
		want    Domain
		wantErr bool
	}{
		{"ISOLATED", Isolated, false},
		{"main", Main, false},
		{" Isolated ", Isolated, false},
		{"worker", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDomain(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectDomain(t *testing.T) {
	assert.Equal(t, Isolated, DetectDomain(true))
	assert.Equal(t, Main, DetectDomain(false))
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{"counterpart", Envelope{BridgeID: testBridge, DomainTag: Isolated}, ""},
		{"foreign bridge", Envelope{BridgeID: "other", DomainTag: Isolated}, dropForeign},
		{"own echo", Envelope{BridgeID: testBridge, DomainTag: Main}, dropOwnDomain},
		{"unknown domain", Envelope{BridgeID: testBridge, DomainTag: "WORKER"}, dropUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, admit(testBridge, Main, &tt.env))
		})
	}
}

func TestForeignFramesNeverReachHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := channel.NewMemory(0)
	metrics := monitoring.NewMetrics()

	iso, err := New(ctx, ch, Options{BridgeID: testBridge, Domain: Isolated, Metrics: metrics})
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, iso.Register("echo", HandlerFunc(func(context.Context, json.RawMessage) (any, error) {
		calls.Add(1)
		return nil, nil
	})))

	frames := []string{
		`{"bridgeId":"other","domainTag":"MAIN","messageId":"m1","kind":"invocation","command":"echo"}`,
		`{"bridgeId":"ext-test","domainTag":"ISOLATED","messageId":"m2","kind":"invocation","command":"echo"}`,
		`{"bridgeId":"ext-test","domainTag":"MAIN","kind":"invocation","command":"echo"}`,
		`{"bridgeId":"ext-test","domainTag":"MAIN","messageId":"m3","kind":"gossip","command":"echo"}`,
		`not json at all`,
	}
	for _, f := range frames {
		require.NoError(t, ch.Publish(ctx, []byte(f)))
	}

	require.Eventually(t, func() bool {
		dropped := 0.0
		for _, reason := range []string{dropForeign, dropOwnDomain, dropMalformed} {
			dropped += testutil.ToFloat64(metrics.EnvelopesDropped.WithLabelValues("ISOLATED", reason))
		}
		return dropped == float64(len(frames))
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestStaleResponseIgnored(t *testing.T) {
	p := newPair(t, false)
	ctx := callCtx(t)

	stale := `{"bridgeId":"ext-test","domainTag":"ISOLATED","messageId":"msg_stale","kind":"response","result":1}`
	require.NoError(t, p.ch.Publish(ctx, []byte(stale)))

	require.NoError(t, p.isolated.Register("n", HandlerFunc(func(context.Context, json.RawMessage) (any, error) { return 7, nil })))
	got, err := CallAs[int](ctx, p.main, "n", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestDuplicateResponseResolvesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := channel.NewMemory(0)

	main, err := New(ctx, ch, Options{BridgeID: testBridge, Domain: Main})
	require.NoError(t, err)

	call, err := main.Start(ctx, "n", nil)
	require.NoError(t, err)

	first, err := channel.Encode(&Envelope{BridgeID: testBridge, DomainTag: Isolated, MessageID: call.ID, Kind: KindResponse, Result: json.RawMessage(`1`)})
	require.NoError(t, err)
	second, err := channel.Encode(&Envelope{BridgeID: testBridge, DomainTag: Isolated, MessageID: call.ID, Kind: KindResponse, Result: json.RawMessage(`2`)})
	require.NoError(t, err)
	require.NoError(t, ch.Publish(ctx, first))
	require.NoError(t, ch.Publish(ctx, second))

	resp, err := call.Wait(callCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "1", resp.String())

	time.Sleep(20 * time.Millisecond)
	resp, err = call.Wait(callCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "1", resp.String())
}

func TestResponseHelpers(t *testing.T) {
	var nothing Response
	assert.Equal(t, "null", nothing.String())
	var v any
	require.NoError(t, nothing.Decode(&v))
	assert.Nil(t, v)

	_, failed := Response(`{"success":true,"data":1}`).Failure()
	assert.False(t, failed)
	_, failed = Response(`"text"`).Failure()
	assert.False(t, failed)
	_, failed = Response(`{"success":false}`).Failure()
	assert.False(t, failed)

	f, failed := Response(`{"success":false,"message":"nope"}`).Failure()
	require.True(t, failed)
	assert.EqualError(t, f, "nope")
}
