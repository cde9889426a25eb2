package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	logx "pushalert/pkg/logx"
)

// FCMMaxBatch is the per-call message limit of the FCM send API.
const FCMMaxBatch = 500

type FCMConfig struct {
	ProjectID       string
	CredentialsFile string // empty: application default credentials
}

type fcmClient interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

type FCM struct {
	client fcmClient
	log    logx.Logger
}

func NewFCM(ctx context.Context, cfg FCMConfig, log logx.Logger) (*FCM, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	var conf *firebase.Config
	if cfg.ProjectID != "" {
		conf = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: messaging client: %w", err)
	}
	return newFCM(client, log), nil
}

func newFCM(client fcmClient, log logx.Logger) *FCM {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FCM{client: client, log: log}
}

func (f *FCM) Name() string  { return "fcm" }
func (f *FCM) MaxBatch() int { return FCMMaxBatch }

func (f *FCM) SendBatch(ctx context.Context, msgs []Message) (BatchResult, error) {
	if len(msgs) == 0 {
		return BatchResult{}, nil
	}
	if len(msgs) > FCMMaxBatch {
		return BatchResult{}, fmt.Errorf("fcm: batch of %d exceeds %d", len(msgs), FCMMaxBatch)
	}

	out := make([]*messaging.Message, len(msgs))
	for i, m := range msgs {
		out[i] = toFCM(m)
	}
	br, err := f.client.SendEach(ctx, out)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fcm: send: %w", err)
	}
	if br == nil || len(br.Responses) != len(msgs) {
		return BatchResult{}, errors.New("fcm: response count does not match request")
	}

	res := BatchResult{Responses: make([]Response, len(msgs))}
	for i, r := range br.Responses {
		resp := Response{Token: msgs[i].Token}
		if r != nil && r.Success {
			resp.Success = true
			resp.MessageID = r.MessageID
			res.SuccessCount++
		} else {
			if r != nil {
				resp.Err = r.Error
				resp.Unregistered = messaging.IsUnregistered(r.Error)
			}
			if resp.Err == nil {
				resp.Err = errors.New("fcm: unknown failure")
			}
			res.FailureCount++
		}
		res.Responses[i] = resp
	}
	return res, nil
}

func toFCM(m Message) *messaging.Message {
	fm := &messaging.Message{
		Token:        m.Token,
		Notification: &messaging.Notification{Title: m.Title, Body: m.Body},
		Data:         m.Data,
		Android: &messaging.AndroidConfig{
			Priority: m.Mobile.Priority,
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: m.Mobile.ContentAvailable},
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: m.Title,
				Body:  m.Body,
				Icon:  m.Web.Icon,
				Badge: m.Web.Badge,
			},
		},
	}
	if m.Mobile.Priority == "high" {
		fm.APNS.Headers = map[string]string{"apns-priority": "10"}
	}
	if m.Web.Urgency != "" {
		fm.Webpush.Headers = map[string]string{"Urgency": m.Web.Urgency}
	}
	if m.Web.Link != "" {
		fm.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: m.Web.Link}
	}
	return fm
}
