package announce

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/imroc/req/v3"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
)

// DefaultWebhookTimeout bounds one webhook request.
const DefaultWebhookTimeout = 10 * time.Second

// Webhook posts DingTalk-style text messages to a chat bot.
type Webhook struct {
	url    string
	secret string
	prefix string
	client *req.Client
	now    func() time.Time
}

type textMessage struct {
	MsgType string      `json:"msgtype"`
	Text    textContent `json:"text"`
}

type textContent struct {
	Content string `json:"content"`
}

// botResult is the bot's reply. A non-zero ErrCode is a rejected message even
// when the HTTP status is 200.
type botResult struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// NewWebhook creates a webhook announcer. A non-empty secret turns on request
// signing.
func NewWebhook(url, secret, prefix string) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		prefix: prefix,
		client: req.C().
			SetTimeout(DefaultWebhookTimeout).
			SetUserAgent("gpuview"),
		now: time.Now,
	}
}

// Send posts one text message.
func (w *Webhook) Send(ctx context.Context, message string) error {
	var result botResult
	r := w.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(textMessage{
			MsgType: "text",
			Text:    textContent{Content: w.prefix + message},
		}).
		SetSuccessResult(&result)

	if w.secret != "" {
		timestamp, sign := Sign(w.secret, w.now())
		r.SetQueryParam("timestamp", timestamp).
			SetQueryParam("sign", sign)
	}

	resp, err := r.Post(w.url)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrAnnounce,
			"Webhook request failed",
			"Check the webhook URL and network access to it")
	}
	if !resp.IsSuccessState() {
		return errors.New(errors.ErrAnnounce,
			fmt.Sprintf("Webhook returned HTTP %d", resp.StatusCode),
			"Check the webhook URL; the bot may have been removed")
	}
	if result.ErrCode != 0 {
		return errors.New(errors.ErrAnnounce,
			fmt.Sprintf("Webhook rejected the message (errcode %d): %s", result.ErrCode, result.ErrMsg),
			"Check the bot's security settings (keywords, signing secret, IP allow list)")
	}
	return nil
}

// Validate sends TestMessage.
func (w *Webhook) Validate(ctx context.Context) error {
	return w.Send(ctx, TestMessage)
}

// Sign computes the bot signature for t: the millisecond timestamp and
// base64(HMAC-SHA256(secret, timestamp + "\n" + secret)).
func Sign(secret string, t time.Time) (timestamp, sign string) {
	timestamp = strconv.FormatInt(t.UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return timestamp, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
