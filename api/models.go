package api

// WebhookPayload is the envelope the messaging platform POSTs to /webhook.
// Only the fields the relay reads are modelled.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups the changes for one business account.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is a single notification within an entry.
type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue carries inbound messages (and status updates, ignored here).
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Messages         []InboundMessage `json:"messages,omitempty"`
}

// WebhookMetadata identifies the business number that received the message.
type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// InboundMessage is one user message.
type InboundMessage struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp,omitempty"`
	Type      string       `json:"type"`
	Text      *MessageText `json:"text,omitempty"`
}

// MessageText is the body of a text message.
type MessageText struct {
	Body string `json:"body"`
}

// firstMessage returns the single message the platform delivers per
// request, if any.
func (p *WebhookPayload) firstMessage() (*InboundMessage, WebhookMetadata, bool) {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil, WebhookMetadata{}, false
	}
	value := p.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil, value.Metadata, false
	}
	return &value.Messages[0], value.Metadata, true
}

// FulfillmentResponse is returned by every notification endpoint.
type FulfillmentResponse struct {
	FulfillmentText string `json:"fulfillmentText"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
