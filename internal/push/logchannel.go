package push

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	logx "pushalert/pkg/logx"
)

// LogChannel logs messages instead of delivering them. Every message
// succeeds. Used for development and dry runs.
type LogChannel struct {
	log logx.Logger
}

func NewLogChannel(log logx.Logger) *LogChannel {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogChannel{log: log}
}

func (c *LogChannel) Name() string  { return "log" }
func (c *LogChannel) MaxBatch() int { return FCMMaxBatch }

func (c *LogChannel) SendBatch(ctx context.Context, msgs []Message) (BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{Responses: make([]Response, len(msgs)), SuccessCount: len(msgs)}
	for i, m := range msgs {
		id := fmt.Sprintf("dry-run/%s", uuid.NewString())
		c.log.Info("push (dry run)",
			logx.String("token", redact(m.Token)),
			logx.String("title", m.Title),
			logx.String("body", m.Body),
			logx.String("rule", m.Data["ruleId"]),
		)
		res.Responses[i] = Response{Token: m.Token, Success: true, MessageID: id}
	}
	return res, nil
}

// redact keeps the tail of a token for correlation.
func redact(tok string) string {
	if len(tok) <= 8 {
		return "****"
	}
	return "…" + tok[len(tok)-8:]
}
