// Package dialogflow is a client for the Dialogflow CX detectIntent REST
// method. Only the text-in, text-out subset used by the relay is modelled.
package dialogflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrBackend is returned when detectIntent fails or its response carries
// no text reply.
var ErrBackend = errors.New("conversational backend failure")

// Scope is the OAuth2 scope required by the Dialogflow API.
const Scope = "https://www.googleapis.com/auth/dialogflow"

// Options configures a Client.
type Options struct {
	// Endpoint overrides the regional API endpoint.
	Endpoint     string
	ProjectID    string
	Location     string
	AgentID      string
	LanguageCode string
	HTTPClient   *http.Client
}

// Client talks to one Dialogflow CX agent.
type Client struct {
	endpoint     string
	agentPath    string
	languageCode string
	httpClient   *http.Client
}

// NewClient returns a Client. HTTPClient must already be authenticated;
// see NewClientWithCredentials.
func NewClient(opts Options) (*Client, error) {
	if opts.ProjectID == "" || opts.AgentID == "" {
		return nil, fmt.Errorf("dialogflow: project and agent are required")
	}
	location := opts.Location
	if location == "" {
		location = "global"
	}
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = regionalEndpoint(location)
	}
	lang := opts.LanguageCode
	if lang == "" {
		lang = "es"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint:     endpoint,
		agentPath:    fmt.Sprintf("projects/%s/locations/%s/agents/%s", opts.ProjectID, location, opts.AgentID),
		languageCode: lang,
		httpClient:   httpClient,
	}, nil
}

// NewClientWithCredentials authenticates with service-account JSON, or
// Application Default Credentials when credentialsJSON is empty.
func NewClientWithCredentials(ctx context.Context, opts Options, credentialsJSON []byte) (*Client, error) {
	var (
		creds *google.Credentials
		err   error
	)
	if len(credentialsJSON) > 0 {
		creds, err = google.CredentialsFromJSON(ctx, credentialsJSON, Scope)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, Scope)
	}
	if err != nil {
		return nil, fmt.Errorf("dialogflow: loading credentials: %w", err)
	}
	opts.HTTPClient = oauth2.NewClient(ctx, creds.TokenSource)
	return NewClient(opts)
}

func regionalEndpoint(location string) string {
	if location == "global" {
		return "https://dialogflow.googleapis.com"
	}
	return "https://" + location + "-dialogflow.googleapis.com"
}

type detectIntentRequest struct {
	QueryInput queryInput `json:"queryInput"`
}

type queryInput struct {
	Text         textInput `json:"text"`
	LanguageCode string    `json:"languageCode"`
}

type textInput struct {
	Text string `json:"text"`
}

type detectIntentResponse struct {
	QueryResult struct {
		ResponseMessages []struct {
			Text *struct {
				Text []string `json:"text"`
			} `json:"text,omitempty"`
		} `json:"responseMessages"`
	} `json:"queryResult"`
}

// DetectIntent sends text within sessionID and returns the agent's text
// reply. Multiple text response messages are joined with newlines.
func (c *Client) DetectIntent(ctx context.Context, text, sessionID string) (string, error) {
	body, err := json.Marshal(detectIntentRequest{
		QueryInput: queryInput{Text: textInput{Text: text}, LanguageCode: c.languageCode},
	})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/v3/%s/sessions/%s:detectIntent",
		c.endpoint, c.agentPath, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out detectIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrBackend, err)
	}
	var parts []string
	for _, msg := range out.QueryResult.ResponseMessages {
		if msg.Text != nil {
			parts = append(parts, msg.Text.Text...)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: response has no text", ErrBackend)
	}
	return strings.Join(parts, "\n"), nil
}
