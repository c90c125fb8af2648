// ABOUTME: Tests for the go-openai chat backend against an httptest chat-completions server
// ABOUTME: Covers transcript continuation, created-after-save ordering and unknown continuation tokens

package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatroom-gateway/internal/store"
)

// fakeChatServer answers chat completions with a fixed reply split into chunks.
type fakeChatServer struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	chunks   []string
	status   int
}

func (f *fakeChatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
		return
	}

	if !req.Stream {
		reply := ""
		for _, c := range f.chunks {
			reply += c
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			}},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, c := range f.chunks {
		chunk, _ := json.Marshal(openai.ChatCompletionStreamResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion.chunk",
			Model:  req.Model,
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: c},
			}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (f *fakeChatServer) lastRequest() openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestChatClient(t *testing.T, fake *fakeChatServer, transcripts store.TranscriptStore) *ChatClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	n := 0
	c, err := NewChatClient(ChatConfig{
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/v1",
		Model:       "test-model",
		Transcripts: transcripts,
		NewID: func() string {
			n++
			return fmt.Sprintf("chatresp_%d", n)
		},
	})
	require.NoError(t, err)
	return c
}

func TestNewChatClient_Validation(t *testing.T) {
	_, err := NewChatClient(ChatConfig{Transcripts: store.NewMockStore()})
	assert.Error(t, err)

	_, err = NewChatClient(ChatConfig{APIKey: "sk"})
	assert.Error(t, err)
}

func TestChatStream_CreatedComesAfterDeltas(t *testing.T) {
	fake := &fakeChatServer{chunks: []string{"Hel", "lo"}}
	transcripts := store.NewMockStore()
	c := newTestChatClient(t, fake, transcripts)

	stream, err := c.Stream(context.Background(), Request{Input: "hi", Store: true})
	require.NoError(t, err)
	defer stream.Close()

	events := collect(t, stream)
	require.NoError(t, stream.Err())
	require.Len(t, events, 3)
	assert.Equal(t, EventDelta, events[0].Kind)
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, "lo", events[1].Text)
	assert.Equal(t, EventCreated, events[2].Kind)
	assert.Equal(t, "chatresp_1", events[2].ResponseID)

	saved, err := transcripts.GetTranscript(context.Background(), "chatresp_1")
	require.NoError(t, err)
	assert.Equal(t, []store.TranscriptMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "Hello"},
	}, saved)

	assert.Equal(t, "test-model", fake.lastRequest().Model)
}

func TestChatStream_ContinuesFromTranscript(t *testing.T) {
	fake := &fakeChatServer{chunks: []string{"second"}}
	transcripts := store.NewMockStore()
	require.NoError(t, transcripts.PutTranscript(context.Background(), "chatresp_prev", []store.TranscriptMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply one"},
	}))
	c := newTestChatClient(t, fake, transcripts)

	stream, err := c.Stream(context.Background(), Request{Input: "again", PreviousResponseID: "chatresp_prev", Store: true})
	require.NoError(t, err)
	defer stream.Close()
	collect(t, stream)
	require.NoError(t, stream.Err())

	sent := fake.lastRequest().Messages
	require.Len(t, sent, 3)
	assert.Equal(t, "first", sent[0].Content)
	assert.Equal(t, "reply one", sent[1].Content)
	assert.Equal(t, "again", sent[2].Content)

	saved, err := transcripts.GetTranscript(context.Background(), "chatresp_1")
	require.NoError(t, err)
	assert.Len(t, saved, 4)
}

func TestChatStream_UnknownPreviousResponse(t *testing.T) {
	fake := &fakeChatServer{chunks: []string{"x"}}
	c := newTestChatClient(t, fake, store.NewMockStore())

	_, err := c.Stream(context.Background(), Request{Input: "hi", PreviousResponseID: "chatresp_missing"})
	assert.ErrorIs(t, err, ErrUnknownResponse)
	assert.Empty(t, fake.requests)
}

func TestChatStream_TranscriptSaveFailure(t *testing.T) {
	fake := &fakeChatServer{chunks: []string{"Hel", "lo"}}
	transcripts := store.NewMockStore()
	c := newTestChatClient(t, fake, transcripts)

	stream, err := c.Stream(context.Background(), Request{Input: "hi", Store: true})
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	require.True(t, stream.Next())
	transcripts.SetErr(errors.New("disk full"))

	assert.False(t, stream.Next(), "no created event without a saved transcript")
	assert.ErrorContains(t, stream.Err(), "disk full")
}

func TestChatStream_WithoutStoreSkipsTranscript(t *testing.T) {
	fake := &fakeChatServer{chunks: []string{"ok"}}
	transcripts := store.NewMockStore()
	c := newTestChatClient(t, fake, transcripts)

	stream, err := c.Stream(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	events := collect(t, stream)
	require.Len(t, events, 2)
	_, err = transcripts.GetTranscript(context.Background(), events[1].ResponseID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChatStream_UpstreamError(t *testing.T) {
	fake := &fakeChatServer{status: http.StatusServiceUnavailable}
	c := newTestChatClient(t, fake, store.NewMockStore())

	_, err := c.Stream(context.Background(), Request{Input: "hi"})
	assert.Error(t, err)
}

func TestChatCreate(t *testing.T) {
	fake := &fakeChatServer{chunks: []string{"Hello ", "there"}}
	transcripts := store.NewMockStore()
	c := newTestChatClient(t, fake, transcripts)

	resp, err := c.Create(context.Background(), Request{Input: "hi", Store: true})
	require.NoError(t, err)
	assert.Equal(t, "chatresp_1", resp.ID)
	assert.Equal(t, "Hello there", resp.Text)

	saved, err := transcripts.GetTranscript(context.Background(), "chatresp_1")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", saved[1].Content)
}
