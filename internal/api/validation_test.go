package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyline-ai/storyline/internal/core"
)

func TestStartValidation_ErrorBody(t *testing.T) {
	s := newTestServer()

	rec := doRequest(t, s, http.MethodPost, "/api/v1/commands/start", `{"extra":"notes"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, core.CodeEmptyStory, body.Code)
	assert.Equal(t, "validation", body.Category)
	assert.NotEmpty(t, body.Error)
}

func TestStepValidation_ErrorBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"missing story", `{"step":"translate"}`, core.CodeEmptyStory},
		{"missing step", `{"story":"post_03"}`, core.CodeEmptyStep},
		{"empty step", `{"story":"post_03","step":""}`, core.CodeEmptyStep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()

			rec := doRequest(t, s, http.MethodPost, "/api/v1/commands/step", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestIngestValidation_ErrorBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing type", `{"state":"draft"}`},
		{"metrics without metrics", `{"type":"metrics"}`},
		{"mismatched run id", `{"type":"started","run_id":"run-9"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()

			rec := doRequest(t, s, http.MethodPost, "/api/v1/runs/run-1/events", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, core.CodeMalformedEvent, body.Code)
			assert.Equal(t, "validation", body.Category)
		})
	}
}

func TestCommandResponse_OmitsEmptyFields(t *testing.T) {
	s := newTestServer()

	rec := doRequest(t, s, http.MethodPost, "/api/v1/commands/start", `{"story":"post_03"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "ok")
	assert.Contains(t, raw, "run_id")
	assert.Contains(t, raw, "run")
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "message")
}
