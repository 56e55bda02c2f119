package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/chatrelay/notify"
)

func defaultAck(t *testing.T, event string) string {
	t.Helper()
	for _, tmpl := range notify.Defaults(notify.DefaultLanguage) {
		if tmpl.Event == event {
			return tmpl.Ack
		}
	}
	t.Fatalf("no default template for %q", event)
	return ""
}

func decodeAck(t *testing.T, body []byte) string {
	t.Helper()
	var resp FulfillmentResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.FulfillmentText
}

func TestNotify_KnownSession(t *testing.T) {
	const user = "5215550001"
	tests := []struct {
		event      string
		body       string
		template   string
		wantParams []string
	}{
		{
			event:      "accident",
			body:       `{"name":"Ana","organization":"ACME","problem":"flat tyre"}`,
			template:   "new_accident",
			wantParams: []string{"Ana", "ACME", "flat tyre", user},
		},
		{
			event:      "lead",
			body:       `{"name":"Luis","company":"Agro SA","surface":1200,"period":"Q3","location":"Jalisco"}`,
			template:   "new_lead",
			wantParams: []string{"Luis", "Agro SA", "1200", "Q3", "Jalisco", user},
		},
		{
			event:      "question",
			body:       `{"question":"Which nozzle?"}`,
			template:   "new_technical_question",
			wantParams: []string{"Which nozzle?", user},
		},
		{
			event:      "complaint",
			body:       `{"question":"Late delivery"}`,
			template:   "new_complaint",
			wantParams: []string{"Late delivery", user},
		},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			env := newTestEnv(t)
			sessionID, err := env.sessions.ResolveOrCreate(context.Background(), user)
			require.NoError(t, err)

			req := mustRequest(t, http.MethodPost, "/notify/"+tt.event+"?X-SESSION="+sessionID, []byte(tt.body))
			rec := serve(env.api, req)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, defaultAck(t, tt.event), decodeAck(t, rec.Body.Bytes()))

			_, templates, _ := env.transport.snapshot()
			require.Len(t, templates, 1)
			assert.Equal(t, user, templates[0].To)
			assert.Equal(t, tt.template, templates[0].Name)
			assert.Equal(t, notify.DefaultLanguage, templates[0].Language)
			assert.Equal(t, tt.wantParams, templates[0].Parameters)
		})
	}
}

func TestNotify_UnknownSessionStillAttemptsDelivery(t *testing.T) {
	env := newTestEnv(t)

	req := mustRequest(t, http.MethodPost, "/notify/question?X-SESSION=no-such-session", []byte(`{"question":"Hi?"}`))
	rec := serve(env.api, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultAck(t, "question"), decodeAck(t, rec.Body.Bytes()))

	_, templates, _ := env.transport.snapshot()
	require.Len(t, templates, 1)
	assert.Empty(t, templates[0].To)
	assert.Equal(t, []string{"Hi?", ""}, templates[0].Parameters)
}

func TestNotify_MissingFieldsSentEmpty(t *testing.T) {
	env := newTestEnv(t)
	sessionID, err := env.sessions.ResolveOrCreate(context.Background(), "5215550002")
	require.NoError(t, err)

	rec := serve(env.api, mustRequest(t, http.MethodPost, "/notify/accident?X-SESSION="+sessionID, []byte(`{"name":"Ana","extra":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	_, templates, _ := env.transport.snapshot()
	require.Len(t, templates, 1)
	assert.Equal(t, []string{"Ana", "", "", "5215550002"}, templates[0].Parameters)
}

func TestNotify_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	rec := serve(env.api, mustRequest(t, http.MethodPost, "/notify/complaint?X-SESSION=x", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	_, templates, _ := env.transport.snapshot()
	require.Len(t, templates, 1)
	assert.Equal(t, []string{"", ""}, templates[0].Parameters)
}

func TestNotify_FailuresStillAcknowledged(t *testing.T) {
	t.Run("transport failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.transport.templateErr = errors.New("template not approved")
		rec := serve(env.api, mustRequest(t, http.MethodPost, "/notify/lead?X-SESSION=x", []byte(`{}`)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultAck(t, "lead"), decodeAck(t, rec.Body.Bytes()))
	})

	t.Run("malformed body", func(t *testing.T) {
		env := newTestEnv(t)
		rec := serve(env.api, mustRequest(t, http.MethodPost, "/notify/lead?X-SESSION=x", []byte(`{"name":`)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultAck(t, "lead"), decodeAck(t, rec.Body.Bytes()))
		_, templates, _ := env.transport.snapshot()
		assert.Empty(t, templates)
	})

	t.Run("storage unavailable", func(t *testing.T) {
		env := newTestEnvWithBlobs(t, failingBlobs{}, nil)
		rec := serve(env.api, mustRequest(t, http.MethodPost, "/notify/accident?X-SESSION=x", []byte(`{}`)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultAck(t, "accident"), decodeAck(t, rec.Body.Bytes()))
		_, templates, _ := env.transport.snapshot()
		assert.Empty(t, templates)
	})
}

func TestNotify_UnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	rec := serve(env.api, mustRequest(t, http.MethodPost, "/notify/birthday?X-SESSION=x", []byte(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, templates, _ := env.transport.snapshot()
	assert.Empty(t, templates)
}

func TestNotify_CustomCatalog(t *testing.T) {
	catalog, err := notify.NewCatalog([]notify.Template{{
		Event:    "visit",
		Name:     "site_visit",
		Language: "en-US",
		Fields:   []string{"date"},
		Ack:      "See you then",
	}})
	require.NoError(t, err)
	env := newTestEnv(t, WithCatalog(catalog))

	rec := serve(env.api, mustRequest(t, http.MethodPost, "/notify/visit?X-SESSION=x", []byte(`{"date":"2025-06-01"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "See you then", decodeAck(t, rec.Body.Bytes()))

	_, templates, _ := env.transport.snapshot()
	require.Len(t, templates, 1)
	assert.Equal(t, "site_visit", templates[0].Name)
	assert.Equal(t, "en_US", templates[0].Language)

	rec = serve(env.api, mustRequest(t, http.MethodPost, "/notify/accident?X-SESSION=x", []byte(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecodeFields(t *testing.T) {
	values, err := decodeFields(strings.NewReader(`{"s":"a","n":12.5,"b":true,"z":null,"o":{"k":1}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"s": "a",
		"n": "12.5",
		"b": "true",
		"z": "",
		"o": `{"k":1}`,
	}, values)

	values, err = decodeFields(strings.NewReader(`{"surface":1500000,"period":12345678,"rate":0.000001}`))
	require.NoError(t, err)
	assert.Equal(t, "1500000", values["surface"])
	assert.Equal(t, "12345678", values["period"])
	assert.Equal(t, "0.000001", values["rate"])

	_, err = decodeFields(strings.NewReader(`[1,2]`))
	assert.Error(t, err)
}
