// Package whatsapp is a minimal client for the WhatsApp Cloud API messages
// endpoint: free-form text replies, template messages and read receipts.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTransport is returned when a message could not be delivered to the
// Cloud API or the API rejected it.
var ErrTransport = errors.New("whatsapp transport failure")

const defaultBaseURL = "https://graph.facebook.com"

// DefaultAPIVersion is the Graph API version used when Options leaves it empty.
const DefaultAPIVersion = "v21.0"

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	HTTPClient    *http.Client
}

// Client sends messages on behalf of one business phone number.
type Client struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
}

// TemplateMessage is a pre-approved template addressed to a user. An empty
// To is sent as-is (the field is omitted) and left for the API to reject.
type TemplateMessage struct {
	To         string
	Name       string
	Language   string
	Parameters []string
}

// NewClient returns a Client with defaults applied.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		baseURL:       baseURL,
		apiVersion:    apiVersion,
		phoneNumberID: opts.PhoneNumberID,
		accessToken:   opts.AccessToken,
		httpClient:    httpClient,
	}
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type messageContext struct {
	MessageID string `json:"message_id"`
}

type textMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             textBody        `json:"text"`
	Context          *messageContext `json:"context,omitempty"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components"`
}

type templateMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to,omitempty"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type readReceipt struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

// SendText sends body to the user. If replyTo is set the message is
// threaded as a reply to that inbound message.
func (c *Client) SendText(ctx context.Context, to, body, replyTo string) error {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	}
	if replyTo != "" {
		msg.Context = &messageContext{MessageID: replyTo}
	}
	return c.post(ctx, msg)
}

// SendTemplate sends a template message with positional body parameters.
func (c *Client) SendTemplate(ctx context.Context, m TemplateMessage) error {
	params := make([]templateParameter, len(m.Parameters))
	for i, p := range m.Parameters {
		params[i] = templateParameter{Type: "text", Text: p}
	}
	return c.post(ctx, templateMessage{
		MessagingProduct: "whatsapp",
		To:               m.To,
		Type:             "template",
		Template: templateBody{
			Name:       m.Name,
			Language:   templateLanguage{Code: m.Language},
			Components: []templateComponent{{Type: "body", Parameters: params}},
		},
	})
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.post(ctx, readReceipt{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	})
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
