package push

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "pushalert/pkg/logx"
)

type fakeFCM struct {
	calls [][]*messaging.Message
	resp  func(msgs []*messaging.Message) (*messaging.BatchResponse, error)
}

func (f *fakeFCM) SendEach(_ context.Context, msgs []*messaging.Message) (*messaging.BatchResponse, error) {
	f.calls = append(f.calls, msgs)
	return f.resp(msgs)
}

func sample(token string) Message {
	return Message{
		Token:  token,
		Title:  "Alert: Low sessions",
		Body:   "2 students have 2 or fewer lessons left.",
		Data:   map[string]string{"link": "/notifications", "ruleId": "low_sessions"},
		Mobile: MobileOptions{Priority: "high", ContentAvailable: true},
		Web:    WebOptions{Urgency: "high", Icon: "/icon.png", Badge: "/badge.png", Link: "https://app.example.com/notifications"},
	}
}

func TestToFCMRendersBothVariants(t *testing.T) {
	fm := toFCM(sample("tok-1"))
	assert.Equal(t, "tok-1", fm.Token)
	assert.Equal(t, "Alert: Low sessions", fm.Notification.Title)
	assert.Equal(t, "low_sessions", fm.Data["ruleId"])

	assert.Equal(t, "high", fm.Android.Priority)
	assert.Equal(t, "10", fm.APNS.Headers["apns-priority"])
	assert.True(t, fm.APNS.Payload.Aps.ContentAvailable)

	assert.Equal(t, "high", fm.Webpush.Headers["Urgency"])
	assert.Equal(t, "/icon.png", fm.Webpush.Notification.Icon)
	assert.Equal(t, "/badge.png", fm.Webpush.Notification.Badge)
	require.NotNil(t, fm.Webpush.FCMOptions)
	assert.Equal(t, "https://app.example.com/notifications", fm.Webpush.FCMOptions.Link)
}

func TestToFCMOmitsEmptyWebLink(t *testing.T) {
	m := sample("tok")
	m.Web.Link = ""
	assert.Nil(t, toFCM(m).Webpush.FCMOptions)
}

func TestFCMSendBatchCountsPerMessage(t *testing.T) {
	client := &fakeFCM{resp: func(msgs []*messaging.Message) (*messaging.BatchResponse, error) {
		return &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "projects/p/messages/1"},
				{Success: false, Error: errors.New("invalid registration")},
			},
		}, nil
	}}
	f := newFCM(client, logx.Nop())

	res, err := f.SendBatch(context.Background(), []Message{sample("a"), sample("b")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, "projects/p/messages/1", res.Responses[0].MessageID)
	assert.Equal(t, "b", res.Responses[1].Token)
	assert.Error(t, res.Responses[1].Err)
	assert.False(t, res.Responses[1].Unregistered)
}

func TestFCMSendBatchCallError(t *testing.T) {
	boom := errors.New("unauthenticated")
	f := newFCM(&fakeFCM{resp: func([]*messaging.Message) (*messaging.BatchResponse, error) { return nil, boom }}, logx.Nop())
	_, err := f.SendBatch(context.Background(), []Message{sample("a")})
	assert.ErrorIs(t, err, boom)
}

func TestFCMSendBatchRejectsOversize(t *testing.T) {
	client := &fakeFCM{}
	f := newFCM(client, logx.Nop())
	_, err := f.SendBatch(context.Background(), make([]Message, FCMMaxBatch+1))
	assert.Error(t, err)
	assert.Empty(t, client.calls)
}

func TestFCMSendBatchEmpty(t *testing.T) {
	client := &fakeFCM{}
	res, err := newFCM(client, logx.Nop()).SendBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)
	assert.Empty(t, client.calls)
}

func TestLogChannelSucceeds(t *testing.T) {
	c := NewLogChannel(logx.Nop())
	res, err := c.SendBatch(context.Background(), []Message{sample("token-000000001"), sample("t")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, "…00000001", redact("token-000000001"))
	assert.Equal(t, "****", redact("t"))
}
