// ABOUTME: Tests for the Responses API client against an httptest server
// ABOUTME: Covers request encoding, SSE event mapping, truncation, provider errors and non-streaming output

package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path string
	Auth string
	Body map[string]any
}

func sseServer(t *testing.T, events []string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.Path = r.URL.Path
			captured.Auth = r.Header.Get("Authorization")
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &captured.Body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, e := range events {
			fmt.Fprintf(w, "event: ignored\ndata: %s\n\n", e)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestResponsesClient(t *testing.T, url string) *ResponsesClient {
	t.Helper()
	c, err := NewResponsesClient(ResponsesConfig{APIKey: "sk-test", BaseURL: url + "/"})
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, s Stream) []Event {
	t.Helper()
	var events []Event
	for s.Next() {
		events = append(events, s.Event())
	}
	return events
}

func TestNewResponsesClient_RequiresKey(t *testing.T) {
	_, err := NewResponsesClient(ResponsesConfig{})
	assert.Error(t, err)
}

func TestResponsesStream_MapsEvents(t *testing.T) {
	var got capturedRequest
	srv := sseServer(t, []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.in_progress"}`,
		`{"type":"response.output_text.delta","delta":"Hel"}`,
		`{"type":"response.output_text.delta","delta":"lo"}`,
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
		`[DONE]`,
	}, &got)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi", PreviousResponseID: "resp_0", Store: true})
	require.NoError(t, err)
	defer stream.Close()

	events := collect(t, stream)
	require.NoError(t, stream.Err())
	require.Len(t, events, 5)

	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, "resp_1", events[0].ResponseID)
	assert.Equal(t, EventOther, events[1].Kind)
	assert.Equal(t, "response.in_progress", events[1].Type)
	assert.Equal(t, EventDelta, events[2].Kind)
	assert.Equal(t, "Hel", events[2].Text)
	assert.Equal(t, "lo", events[3].Text)
	assert.Equal(t, EventOther, events[4].Kind)

	assert.Equal(t, "/responses", got.Path)
	assert.Equal(t, "Bearer sk-test", got.Auth)
	assert.Equal(t, "gpt-4o", got.Body["model"])
	assert.Equal(t, "hi", got.Body["input"])
	assert.Equal(t, true, got.Body["store"])
	assert.Equal(t, true, got.Body["stream"])
	assert.Equal(t, "resp_0", got.Body["previous_response_id"])
}

func TestResponsesStream_OmitsEmptyPreviousID(t *testing.T) {
	var got capturedRequest
	srv := sseServer(t, []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
	}, &got)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi", Store: true})
	require.NoError(t, err)
	defer stream.Close()

	assert.Len(t, collect(t, stream), 2)
	assert.NoError(t, stream.Err())
	_, present := got.Body["previous_response_id"]
	assert.False(t, present)
}

func TestResponsesStream_ErrorEvent(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"error","message":"overloaded"}`,
		`{"type":"response.output_text.delta","delta":"never"}`,
	}, nil)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	events := collect(t, stream)
	require.Len(t, events, 1)

	var apiErr *APIError
	require.ErrorAs(t, stream.Err(), &apiErr)
	assert.Equal(t, "overloaded", apiErr.Message)
	assert.False(t, stream.Next(), "stream stays finished after an error")
}

func TestResponsesStream_FailedEvent(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.failed","response":{"id":"resp_1","error":{"message":"model melted"}}}`,
	}, nil)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	assert.Len(t, collect(t, stream), 1)
	assert.ErrorContains(t, stream.Err(), "model melted")
}

func TestResponsesStream_FailureBeforeFirstEvent(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.failed","response":{"error":{"message":"model melted"}}}`,
	}, nil)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi"})
	assert.Nil(t, stream)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "model melted", apiErr.Message)
}

func TestResponsesStream_MalformedEvent(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{not json`,
	}, nil)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	assert.Len(t, collect(t, stream), 1)
	assert.Error(t, stream.Err())
}

func TestResponsesStream_TruncatedBeforeCompleted(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.output_text.delta","delta":"Hel"}`,
	}, nil)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	events := collect(t, stream)
	require.Len(t, events, 2)
	assert.Equal(t, "resp_1", events[0].ResponseID)
	assert.Equal(t, "Hel", events[1].Text)

	require.Error(t, stream.Err())
	assert.ErrorIs(t, stream.Err(), io.ErrUnexpectedEOF)
	assert.False(t, stream.Next(), "stream stays finished after truncation")
}

func TestResponsesStream_IncompleteIsTerminal(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.output_text.delta","delta":"Hel"}`,
		`{"type":"response.incomplete","response":{"id":"resp_1","incomplete_details":{"reason":"max_output_tokens"}}}`,
	}, nil)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	assert.Len(t, collect(t, stream), 3)
	assert.NoError(t, stream.Err())
}

func TestResponsesStream_EmptyStream(t *testing.T) {
	srv := sseServer(t, []string{`[DONE]`}, nil)

	c := newTestResponsesClient(t, srv.URL)
	_, err := c.Stream(context.Background(), Request{Input: "hi"})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestResponsesStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Previous response with id 'resp_x' not found."}}`))
	}))
	defer srv.Close()

	c := newTestResponsesClient(t, srv.URL)
	_, err := c.Stream(context.Background(), Request{Input: "hi", PreviousResponseID: "resp_x"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "resp_x")
}

func TestResponsesStream_CloseIsIdempotent(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
	}, nil)

	c := newTestResponsesClient(t, srv.URL)
	stream, err := c.Stream(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestResponsesCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(body), `"stream"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_9",
			"status": "completed",
			"output": [
				{"type": "reasoning", "content": [{"type": "output_text", "text": "skip"}]},
				{"type": "message", "content": [
					{"type": "output_text", "text": "Hello "},
					{"type": "refusal", "refusal": "no"},
					{"type": "output_text", "text": "there"}
				]}
			]
		}`))
	}))
	defer srv.Close()

	c := newTestResponsesClient(t, srv.URL)
	resp, err := c.Create(context.Background(), Request{Input: "hi", Store: true})
	require.NoError(t, err)
	assert.Equal(t, "resp_9", resp.ID)
	assert.Equal(t, "Hello there", resp.Text)
}

func TestResponsesCreate_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp_9","status":"failed","error":{"message":"nope"}}`))
	}))
	defer srv.Close()

	c := newTestResponsesClient(t, srv.URL)
	_, err := c.Create(context.Background(), Request{Input: "hi"})
	assert.ErrorContains(t, err, "nope")
}
