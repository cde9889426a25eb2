// Package compose turns fired rules into notification intents and renders
// intents into per-token push messages. It performs no I/O.
package compose

import (
	"strings"
	"sync/atomic"

	"pushalert/internal/evaluator"
	"pushalert/internal/push"
	"pushalert/internal/rules"
)

const (
	TitlePrefix = "Alert: "
	DefaultLink = "/notifications"

	DataLink   = "link"
	DataRuleID = "ruleId"
)

// Intent is the channel-independent content of one fired rule.
type Intent struct {
	RuleID string
	Kind   rules.Kind
	Title  string
	Body   string
	Data   map[string]string
	Count  int
}

type Options struct {
	Link    string // in-app path opened on tap
	BaseURL string // prefix making Link absolute for web push
	Icon    string
	Badge   string
}

type Composer struct {
	opts atomic.Pointer[Options]
}

func New(opts Options) *Composer {
	c := &Composer{}
	c.Apply(opts)
	return c
}

// Apply replaces the options used by subsequent calls.
func (c *Composer) Apply(opts Options) {
	if strings.TrimSpace(opts.Link) == "" {
		opts.Link = DefaultLink
	}
	c.opts.Store(&opts)
}

func (c *Composer) Intent(r rules.Rule, res evaluator.Result) Intent {
	o := c.opts.Load()
	return Intent{
		RuleID: r.ID,
		Kind:   r.Kind(),
		Title:  TitlePrefix + r.Label,
		Body:   res.Message,
		Data:   map[string]string{DataLink: o.Link, DataRuleID: r.ID},
		Count:  res.Count,
	}
}

// Message renders in for one token with both the mobile and the web push
// variants.
func (c *Composer) Message(in Intent, token string) push.Message {
	o := c.opts.Load()
	data := make(map[string]string, len(in.Data))
	for k, v := range in.Data {
		data[k] = v
	}
	return push.Message{
		Token: token,
		Title: in.Title,
		Body:  in.Body,
		Data:  data,
		Mobile: push.MobileOptions{
			Priority:         "high",
			ContentAvailable: true,
		},
		Web: push.WebOptions{
			Urgency: "high",
			Icon:    o.Icon,
			Badge:   o.Badge,
			Link:    webLink(o.BaseURL, data[DataLink]),
		},
	}
}

// webLink returns an absolute https URL or "".
func webLink(base, link string) string {
	if strings.HasPrefix(link, "https://") {
		return link
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.HasPrefix(base, "https://") {
		return ""
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return base + link
}
