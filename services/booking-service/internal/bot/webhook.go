package bot

import (
	"log/slog"
	"net/http"

	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

const fallbackReply = "Sorry, something went wrong on our side. Please try again in a moment."

// WebhookHandler receives Twilio WhatsApp messages and answers with TwiML.
type WebhookHandler struct {
	bot       *Bot
	validator *client.RequestValidator
	publicURL string
	logger    *slog.Logger
}

// NewWebhookHandler checks X-Twilio-Signature against authToken. Twilio signs
// the public URL it posts to, which behind a proxy differs from the request
// URL, so publicURL must be the externally visible webhook address. An empty
// authToken disables the check.
func NewWebhookHandler(b *Bot, authToken, publicURL string, logger *slog.Logger) *WebhookHandler {
	h := &WebhookHandler{bot: b, publicURL: publicURL, logger: logger}
	if authToken != "" {
		v := client.NewRequestValidator(authToken)
		h.validator = &v
	}
	return h
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	if h.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !h.validator.Validate(h.signedURL(r), params, r.Header.Get("X-Twilio-Signature")) {
			h.logger.Warn("rejected unsigned bot webhook", "remote_addr", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := r.PostForm.Get("From")
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	reply, err := h.bot.Handle(r.Context(), from, r.PostForm.Get("Body"))
	if err != nil {
		h.logger.Error("bot turn failed", "err", err)
		reply = fallbackReply
	}

	doc, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: reply}})
	if err != nil {
		h.logger.Error("render twiml failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (h *WebhookHandler) signedURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
