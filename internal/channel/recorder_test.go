package channel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCapturesTraffic(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	rec, err := NewRecorder(ctx, NewMemory(0), &buf)
	require.NoError(t, err)

	frames := []string{`{"kind":"announcement"}`, `{"kind":"invocation"}`, "not json"}
	for _, f := range frames {
		require.NoError(t, rec.Publish(ctx, []byte(f)))
	}
	require.Eventually(t, func() bool { return rec.Count() == len(frames) }, time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Close())

	records, err := ReadRecording(&buf)
	require.NoError(t, err)
	require.Len(t, records, len(frames))
	for i, f := range frames {
		assert.Equal(t, f, records[i].Frame)
		assert.False(t, records[i].Time.IsZero())
	}
}

func TestRecorderClosesInner(t *testing.T) {
	var buf bytes.Buffer
	inner := NewMemory(0)

	rec, err := NewRecorder(context.Background(), inner, &buf)
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	assert.ErrorIs(t, inner.Publish(context.Background(), []byte("x")), ErrClosed)
}

func TestReadRecordingRejectsGarbage(t *testing.T) {
	_, err := ReadRecording(bytes.NewReader([]byte("plainly not zstd")))
	assert.Error(t, err)
}
