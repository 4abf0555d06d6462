package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"
)

// Record is one frame observed on a channel.
type Record struct {
	Time  time.Time `json:"time"`
	Frame string    `json:"frame"`
}

// Recorder wraps a Channel and writes every frame seen on it to a
// zstd-compressed stream of newline-delimited JSON records.
type Recorder struct {
	Channel

	mu     sync.Mutex
	enc    *zstd.Encoder
	count  int
	err    error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRecorder starts recording traffic on inner to w. The recorder owns
// inner: closing the recorder closes it.
func NewRecorder(ctx context.Context, inner Channel, w io.Writer) (*Recorder, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}

	tapCtx, cancel := context.WithCancel(ctx)
	frames, err := inner.Subscribe(tapCtx)
	if err != nil {
		cancel()
		enc.Close()
		return nil, err
	}

	r := &Recorder{
		Channel: inner,
		enc:     enc,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.tap(frames)
	return r, nil
}

func (r *Recorder) tap(frames <-chan []byte) {
	defer close(r.done)
	for frame := range frames {
		r.write(frame)
	}
}

func (r *Recorder) write(frame []byte) {
	line, err := Encode(Record{Time: time.Now().UTC(), Frame: string(frame)})
	if err != nil {
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if _, err := r.enc.Write(line); err != nil {
		r.err = err
		return
	}
	r.count++
}

// Count returns the number of frames recorded so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close stops recording, flushes the stream and closes the inner channel.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		<-r.done

		r.mu.Lock()
		werr := r.err
		r.mu.Unlock()

		err = multierr.Combine(werr, r.enc.Close(), r.Channel.Close())
	})
	return err
}

// ReadRecording decodes a stream written by a Recorder.
func ReadRecording(rd io.Reader) ([]Record, error) {
	dec, err := zstd.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var records []Record
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := Decode(scanner.Bytes(), &rec); err != nil {
			return records, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return records, err
	}
	return records, nil
}
