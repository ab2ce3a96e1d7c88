package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgneticGOD/internal/llm"
)

var depositTool = llm.ToolSpec{
	Name:        "check_deposit",
	Description: "Check whether a user has paid",
	Parameters:  []llm.Parameter{{Name: "userAddress", Type: "string", Required: true}},
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestDecideParsesToolCalls(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.Body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"check_deposit",
			"arguments":"{\"userAddress\":\"0xabc\"}"}}]}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	decision, err := client.Decide(context.Background(), llm.Request{
		System:   "be rude",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "(User address: 0xabc) hi"}},
		Tools:    []llm.ToolSpec{depositTool},
	})
	require.NoError(t, err)

	require.Len(t, decision.Calls, 1)
	assert.Equal(t, "call_1", decision.Calls[0].ID)
	assert.Equal(t, "check_deposit", decision.Calls[0].Name)
	assert.Equal(t, "0xabc", decision.Calls[0].Arguments["userAddress"])
	assert.False(t, decision.Final())

	assert.True(t, strings.HasPrefix(captured.Authorization, "Bearer "))
	assert.Equal(t, "gpt-4o-mini", captured.Body["model"])
	messages := captured.Body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	tools := captured.Body["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "check_deposit", fn["name"])
	assert.Equal(t, []any{"userAddress"}, fn["parameters"].(map[string]any)["required"])
}

func TestDecideSendsToolHistory(t *testing.T) {
	var body struct {
		Messages []wireMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Pay up."}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	decision, err := client.Decide(context.Background(), llm.Request{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Calls: []llm.ToolCall{{ID: "c1", Name: "check_deposit", Arguments: map[string]any{"userAddress": "0xabc"}}}},
		{Role: llm.RoleTool, CallID: "c1", Name: "check_deposit", Content: "The user 0xabc has not paid their deposit."},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Pay up.", decision.Content)
	assert.True(t, decision.Final())

	require.Len(t, body.Messages, 3)
	assert.Nil(t, body.Messages[1].Content)
	require.Len(t, body.Messages[1].ToolCalls, 1)
	assert.JSONEq(t, `{"userAddress":"0xabc"}`, body.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "c1", body.Messages[2].ToolCallID)
}

func TestMalformedArgumentsYieldNil(t *testing.T) {
	assert.Nil(t, decodeArguments("{not json"))
	assert.Nil(t, decodeArguments(""))
	assert.Equal(t, map[string]any{"a": "b"}, decodeArguments(`{"a":"b"}`))
}

func TestDecideHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	_, err = client.Decide(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDecideEmptyChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":""}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	_, err = client.Decide(context.Background(), llm.Request{})
	require.Error(t, err)
}
