package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	logx "pushalert/pkg/logx"
)

type fakeBot struct {
	to   tele.Recipient
	text string
	opts *tele.SendOptions
	err  error
	n    int
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.n++
	f.to = to
	f.text, _ = what.(string)
	if len(opts) > 0 {
		f.opts, _ = opts[0].(*tele.SendOptions)
	}
	return &tele.Message{ID: f.n}, f.err
}

var _ logx.Sender = (*Alerter)(nil)

func TestSendAlertTargetsChatAndThread(t *testing.T) {
	bot := &fakeBot{}
	a := newAlerter(bot, Config{ChatID: -100123, ThreadID: 7})

	require.NoError(t, a.SendAlert(context.Background(), "  [ERROR] tick aborted\n"))
	assert.Equal(t, "-100123", bot.to.Recipient())
	assert.Equal(t, "[ERROR] tick aborted", bot.text)
	require.NotNil(t, bot.opts)
	assert.Equal(t, 7, bot.opts.ThreadID)
	assert.True(t, bot.opts.DisableWebPagePreview)
}

func TestSendAlertSkipsBlankAndCanceled(t *testing.T) {
	bot := &fakeBot{}
	a := newAlerter(bot, Config{ChatID: 1})

	require.NoError(t, a.SendAlert(context.Background(), "   "))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.SendAlert(ctx, "x"), context.Canceled)
	assert.Zero(t, bot.n)
}

func TestSendAlertReturnsBotError(t *testing.T) {
	a := newAlerter(&fakeBot{err: errors.New("chat not found")}, Config{ChatID: 1})
	assert.ErrorContains(t, a.SendAlert(context.Background(), "x"), "chat not found")
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{ChatID: 1})
	assert.Error(t, err)
	_, err = New(Config{Token: "123:abc"})
	assert.Error(t, err)
}
