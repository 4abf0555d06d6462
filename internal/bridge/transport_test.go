package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/GriffinCanCode/terabithia/internal/testutil"
)

func TestAnnounceErrorsAreAggregated(t *testing.T) {
	ch := testutil.NewMockChannel(t, errors.New("relay down"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := New(ctx, ch, Options{BridgeID: testBridge, Domain: Isolated, Proxies: true})
	require.NoError(t, err)

	err = e.RegisterHandlers(Handlers{
		"b": HandlerFunc(echo),
		"a": HandlerFunc(echo),
	})
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "announce a")
	assert.Contains(t, errs[1].Error(), "announce b")
	assert.Equal(t, []string{"a", "b"}, e.Commands())
}

func TestSubscribeFailure(t *testing.T) {
	ch := new(testutil.MockChannel)
	ch.On("Subscribe", mock.Anything).Return(nil, errors.New("no medium"))

	_, err := New(context.Background(), ch, Options{BridgeID: testBridge, Domain: Main})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe")
	ch.AssertExpectations(t)
}

func TestServesInvocationFromWire(t *testing.T) {
	ch := testutil.NewMockChannel(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := New(ctx, ch, Options{BridgeID: testBridge, Domain: Isolated})
	require.NoError(t, err)
	require.NoError(t, e.Register("echo", HandlerFunc(echo)))

	ch.Feed([]byte(`{"bridgeId":"ext-test","domainTag":"MAIN","messageId":"m-1","kind":"invocation","command":"echo","payload":"hi"}`))

	select {
	case frame := <-ch.Sent():
		var env map[string]any
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, "response", env["kind"])
		assert.Equal(t, "ISOLATED", env["domainTag"])
		assert.Equal(t, "m-1", env["messageId"])
		assert.Equal(t, map[string]any{"success": true, "data": "hi"}, env["result"])
	case <-time.After(5 * time.Second):
		t.Fatal("no response published")
	}
}

func TestIgnoresForeignFramesFromWire(t *testing.T) {
	ch := testutil.NewMockChannel(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := New(ctx, ch, Options{BridgeID: testBridge, Domain: Isolated})
	require.NoError(t, err)
	require.NoError(t, e.Register("echo", HandlerFunc(echo)))

	ch.Feed([]byte(`{"bridgeId":"other","domainTag":"MAIN","messageId":"m-1","kind":"invocation","command":"echo"}`))
	ch.Feed([]byte(`{"bridgeId":"ext-test","domainTag":"ISOLATED","messageId":"m-2","kind":"invocation","command":"echo"}`))
	ch.Feed([]byte(`not json`))

	select {
	case frame := <-ch.Sent():
		t.Fatalf("unexpected publish: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndOfSubscriptionTearsDown(t *testing.T) {
	ch := testutil.NewMockChannel(t, nil)
	e, err := New(context.Background(), ch, Options{BridgeID: testBridge, Domain: Main})
	require.NoError(t, err)

	call, err := e.Start(context.Background(), "never", nil)
	require.NoError(t, err)

	ch.End()

	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("endpoint not torn down")
	}
	_, err = call.Wait(context.Background())
	assert.ErrorIs(t, err, ErrEndpointClosed)
}

func TestWireSequence(t *testing.T) {
	p := newPair(t, true)
	log := testutil.Tap(t, p.ch)

	require.NoError(t, p.isolated.Register("echo", HandlerFunc(echo)))
	log.WaitFor(t, 1, 5*time.Second)

	_, err := p.main.CallRemote(callCtx(t), "echo", "x")
	require.NoError(t, err)
	log.WaitFor(t, 3, 5*time.Second)

	assert.Equal(t, []string{"announcement", "invocation", "response"}, log.Kinds())

	frames := log.Decoded()
	assert.Equal(t, "ISOLATED", frames[0]["domainTag"])
	assert.NotContains(t, frames[0], "messageId")
	assert.Equal(t, "MAIN", frames[1]["domainTag"])
	assert.Equal(t, frames[1]["messageId"], frames[2]["messageId"])
}
