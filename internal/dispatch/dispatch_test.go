package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushalert/internal/compose"
	"pushalert/internal/push"
	logx "pushalert/pkg/logx"
)

type fakeChannel struct {
	mu      sync.Mutex
	max     int
	batches [][]push.Message
	send    func(call int, msgs []push.Message) (push.BatchResult, error)
}

func (f *fakeChannel) Name() string  { return "fake" }
func (f *fakeChannel) MaxBatch() int { return f.max }

func (f *fakeChannel) SendBatch(_ context.Context, msgs []push.Message) (push.BatchResult, error) {
	f.mu.Lock()
	call := len(f.batches)
	f.batches = append(f.batches, append([]push.Message(nil), msgs...))
	f.mu.Unlock()
	if f.send != nil {
		return f.send(call, msgs)
	}
	return allOK(msgs), nil
}

func allOK(msgs []push.Message) push.BatchResult {
	res := push.BatchResult{SuccessCount: len(msgs)}
	for _, m := range msgs {
		res.Responses = append(res.Responses, push.Response{Token: m.Token, Success: true})
	}
	return res
}

func intents(ids ...string) []compose.Intent {
	out := make([]compose.Intent, 0, len(ids))
	for _, id := range ids {
		out = append(out, compose.Intent{
			RuleID: id,
			Title:  compose.TitlePrefix + id,
			Body:   "body " + id,
			Data:   map[string]string{compose.DataLink: compose.DefaultLink, compose.DataRuleID: id},
		})
	}
	return out
}

func newDispatcher(ch push.Channel, cfg Config) *Dispatcher {
	return New(ch, compose.New(compose.Options{}), cfg, logx.Nop())
}

func TestDispatchCrossProduct(t *testing.T) {
	ch := &fakeChannel{max: 500}
	d := newDispatcher(ch, Config{})

	res := d.Dispatch(context.Background(), intents("a", "b"), []string{"t1", "t2", "t3"})

	assert.Equal(t, 6, res.Units)
	assert.Equal(t, 6, res.Success)
	assert.Zero(t, res.Failure)
	assert.Equal(t, 1, res.Calls)
	require.Len(t, ch.batches, 1)

	seen := map[string]bool{}
	for _, m := range ch.batches[0] {
		seen[m.Data[compose.DataRuleID]+"/"+m.Token] = true
		assert.Equal(t, "high", m.Mobile.Priority)
		assert.True(t, m.Mobile.ContentAvailable)
		assert.Equal(t, "high", m.Web.Urgency)
	}
	assert.Len(t, seen, 6)
	assert.Equal(t, Counts{Success: 3}, res.PerRule["a"])
	assert.Equal(t, Counts{Success: 3}, res.PerRule["b"])
}

func TestDispatchNothingToSend(t *testing.T) {
	ch := &fakeChannel{max: 500}
	d := newDispatcher(ch, Config{})

	assert.Equal(t, Result{}, d.Dispatch(context.Background(), nil, []string{"t1"}))
	assert.Equal(t, Result{}, d.Dispatch(context.Background(), intents("a"), nil))
	assert.Empty(t, ch.batches)
}

func TestDispatchPartialFailure(t *testing.T) {
	ch := &fakeChannel{max: 500, send: func(_ int, msgs []push.Message) (push.BatchResult, error) {
		res := push.BatchResult{}
		for _, m := range msgs {
			if m.Token == "stale" {
				res.FailureCount++
				res.Responses = append(res.Responses, push.Response{Token: m.Token, Err: errors.New("unregistered"), Unregistered: true})
				continue
			}
			res.SuccessCount++
			res.Responses = append(res.Responses, push.Response{Token: m.Token, Success: true})
		}
		return res, nil
	}}
	d := newDispatcher(ch, Config{})

	res := d.Dispatch(context.Background(), intents("a", "b"), []string{"ok1", "stale", "ok2"})

	assert.Equal(t, 6, res.Units)
	assert.Equal(t, 4, res.Success)
	assert.Equal(t, 2, res.Failure)
	assert.Equal(t, []string{"stale"}, res.InvalidTokens)
	assert.Equal(t, Counts{Success: 2, Failure: 1}, res.PerRule["a"])
}

func TestDispatchChunksByChannelLimit(t *testing.T) {
	ch := &fakeChannel{max: 4}
	d := newDispatcher(ch, Config{BatchSize: 100})

	res := d.Dispatch(context.Background(), intents("a", "b", "c"), []string{"t1", "t2", "t3"})

	assert.Equal(t, 9, res.Units)
	assert.Equal(t, 9, res.Success)
	assert.Equal(t, 3, res.Calls)
	require.Len(t, ch.batches, 3)
	assert.Len(t, ch.batches[0], 4)
	assert.Len(t, ch.batches[1], 4)
	assert.Len(t, ch.batches[2], 1)
}

func TestDispatchCallErrorCountsWholeChunk(t *testing.T) {
	ch := &fakeChannel{max: 2, send: func(call int, msgs []push.Message) (push.BatchResult, error) {
		if call == 0 {
			return push.BatchResult{}, errors.New("transport down")
		}
		return allOK(msgs), nil
	}}
	d := newDispatcher(ch, Config{})

	res := d.Dispatch(context.Background(), intents("a"), []string{"t1", "t2", "t3"})

	assert.Equal(t, 3, res.Units)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 2, res.Failure)
	assert.Equal(t, 2, res.Calls)
	assert.Equal(t, 1, res.CallErrors)
}

func TestDispatchShortResponseCountsMissingAsFailed(t *testing.T) {
	ch := &fakeChannel{max: 500, send: func(_ int, msgs []push.Message) (push.BatchResult, error) {
		return allOK(msgs[:1]), nil
	}}
	d := newDispatcher(ch, Config{})

	res := d.Dispatch(context.Background(), intents("a"), []string{"t1", "t2"})
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Failure)
}

func TestDispatchCanceledContextFailsUnsent(t *testing.T) {
	ch := &fakeChannel{max: 1}
	d := newDispatcher(ch, Config{RatePerSec: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Dispatch(ctx, intents("a"), []string{"t1", "t2"})

	assert.Equal(t, 2, res.Units)
	assert.Equal(t, 2, res.Failure)
	assert.Empty(t, ch.batches)
}

func TestBatchSize(t *testing.T) {
	assert.Equal(t, 500, batchSize(0, 500))
	assert.Equal(t, 100, batchSize(100, 500))
	assert.Equal(t, 500, batchSize(900, 500))
	assert.Equal(t, push.FCMMaxBatch, batchSize(0, 0))
}
