package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

const (
	EventPaymentStatusChanged = "PAYMENT_STATUS_CHANGED"

	// Headers the gateway sets on webhook deliveries.
	HeaderWebhookSignature = "X-Gateway-Signature"
	HeaderWebhookDelivery  = "X-Gateway-Delivery"
)

// WebhookEvent is a decoded status-change notification.
type WebhookEvent struct {
	EventType string
	Status    string
	Outcome   *Outcome
	Failure   *DeclinedError
	OrderID   string
}

// Terminal reports whether the event settles the payment either way.
func (e *WebhookEvent) Terminal() bool {
	return e.Outcome != nil || e.Failure != nil
}

func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}
	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}

// SignWebhook returns the hex signature expected by VerifyWebhookSignature.
func SignWebhook(payload []byte, webhookSecret string) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(webhookSecret)))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var raw struct {
		EventType string          `json:"eventType"`
		Data      paymentResponse `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.Data.OrderID) == "" {
		return nil, errors.New("gateway webhook payload missing orderId")
	}

	ev := &WebhookEvent{
		EventType: raw.EventType,
		Status:    raw.Data.Status,
		OrderID:   strings.TrimSpace(raw.Data.OrderID),
	}
	switch raw.Data.Status {
	case StatusDone:
		out, err := toOutcome(&raw.Data, "")
		if err != nil {
			return nil, err
		}
		ev.Outcome = out
	case "ABORTED", "EXPIRED", "CANCELED":
		code, msg := raw.Data.Status, "payment "+strings.ToLower(raw.Data.Status)
		if raw.Data.Failure != nil && raw.Data.Failure.Code != "" {
			code, msg = raw.Data.Failure.Code, raw.Data.Failure.Message
		}
		ev.Failure = &DeclinedError{Code: code, Message: msg}
	}
	return ev, nil
}
