package bot

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

const (
	authToken  = "twilio-auth-token"
	webhookURL = "https://book.example.com/api/v1/bot/whatsapp"
)

func sign(u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(u)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func post(h http.Handler, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bot/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRepliesWithTwiML(t *testing.T) {
	engine, _ := newEngine(t)
	h := NewWebhookHandler(newBot(engine, &recordingNotifier{}), authToken, webhookURL, slog.New(slog.NewTextHandler(io.Discard, nil)))

	form := url.Values{"From": {"whatsapp:+351912345678"}, "Body": {"hi"}, "MessageSid": {"SM123"}}
	rec := post(h, form, sign(webhookURL, form))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Response>") || !strings.Contains(body, "<Message>") || !strings.Contains(body, "Haircut") {
		t.Fatalf("unexpected TwiML %s", body)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	engine, _ := newEngine(t)
	h := NewWebhookHandler(newBot(engine, &recordingNotifier{}), authToken, webhookURL, slog.New(slog.NewTextHandler(io.Discard, nil)))

	form := url.Values{"From": {"whatsapp:+351912345678"}, "Body": {"hi"}}
	if rec := post(h, form, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", rec.Code)
	}
	tampered := url.Values{"From": {"whatsapp:+351900000000"}, "Body": {"hi"}}
	if rec := post(h, tampered, sign(webhookURL, form)); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tampered body, got %d", rec.Code)
	}
}

func TestWebhookWithoutValidation(t *testing.T) {
	engine, _ := newEngine(t)
	h := NewWebhookHandler(newBot(engine, &recordingNotifier{}), "", "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	if rec := post(h, url.Values{"Body": {"hi"}}, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without From, got %d", rec.Code)
	}
	if rec := post(h, url.Values{"From": {"whatsapp:+351912345678"}, "Body": {"hi"}}, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
