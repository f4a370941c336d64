package alerts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Webhook request headers.
const (
	HeaderDelivery  = "X-Costwatch-Delivery"
	HeaderEvent     = "X-Costwatch-Event"
	HeaderSignature = "X-Costwatch-Signature"
)

// ErrBadSignature is returned by VerifySignature.
var ErrBadSignature = errors.New("webhook signature mismatch")

// WebhookChannel posts alerts as JSON to a generic HTTP endpoint. With a
// secret set, each delivery carries a signature header of the form
// "t=<unix seconds>,v1=<hex hmac-sha256 of "<t>.<body>">".
type WebhookChannel struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewWebhookChannel creates a webhook channel. An empty secret disables
// signing.
func NewWebhookChannel(url, secret string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		secret: []byte(secret),
		client: httpClient,
		now:    time.Now,
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

// WebhookEvent is the body of a webhook delivery.
type WebhookEvent struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Alert      Alert     `json:"alert"`
}

// EventName is the webhook event type for an alert.
func EventName(a Alert) string {
	return "costwatch." + string(a.Kind)
}

func (w *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	ev := WebhookEvent{
		ID:         uuid.NewString(),
		Event:      EventName(alert),
		OccurredAt: alert.Timestamp.UTC(),
		Alert:      alert,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	header := http.Header{}
	header.Set(HeaderDelivery, ev.ID)
	header.Set(HeaderEvent, ev.Event)
	if len(w.secret) > 0 {
		header.Set(HeaderSignature, sign(w.secret, w.now().Unix(), body))
	}
	return postBody(ctx, w.client, "webhook", w.url, body, header)
}

func sign(secret []byte, ts int64, body []byte) string {
	t := strconv.FormatInt(ts, 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(t))
	mac.Write([]byte("."))
	mac.Write(body)
	return "t=" + t + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header against body for receivers of
// webhook deliveries. A tolerance above zero also rejects signatures whose
// timestamp is further than tolerance from now.
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	var ts int64
	var got string
	for part := range strings.SplitSeq(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts = n
		case "v1":
			got = v
		}
	}
	if ts == 0 || got == "" {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}
	if tolerance > 0 {
		if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
		}
	}
	want := sign([]byte(secret), ts, body)
	if !hmac.Equal([]byte(want), []byte("t="+strconv.FormatInt(ts, 10)+",v1="+got)) {
		return ErrBadSignature
	}
	return nil
}
