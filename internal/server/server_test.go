package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/internal/agent"
	"github.com/maestro-ai/maestro/internal/orchestrator"
	"github.com/maestro-ai/maestro/internal/planner"
	"github.com/maestro-ai/maestro/internal/protocol"
	"github.com/maestro-ai/maestro/internal/session"
	"github.com/maestro-ai/maestro/internal/store"
	"github.com/maestro-ai/maestro/internal/streaming"
	"github.com/maestro-ai/maestro/pkg/schema"
)

func newTestServer(t *testing.T, p planner.Planner, executors map[string]agent.Executor) *httptest.Server {
	t.Helper()
	s := store.NewMemoryStore()
	sessions := session.NewRegistry(s, time.Hour)
	tasks := protocol.NewTaskManager(s, time.Hour)
	agents := agent.NewRegistry(nil, nil, slog.Default())
	for name, exec := range executors {
		require.NoError(t, agents.Register(name, agent.Card{Name: name}, exec))
	}
	orch := orchestrator.New(sessions, tasks, agents, p, streaming.NewHub(), slog.Default(), orchestrator.Config{})

	srv := httptest.NewServer(New(orch, agents, slog.Default(), DefaultConfig()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func onePlanNode() planner.Planner {
	return planner.PlannerFunc(func(ctx context.Context, query string, history []schema.Message) (*planner.PlanResult, error) {
		return &planner.PlanResult{Nodes: []schema.NodeConfig{
			{ID: "work", Agent: "worker", Query: "do the work"},
		}}, nil
	})
}

func workerDone() map[string]agent.Executor {
	return map[string]agent.Executor{
		"worker": agent.ExecutorFunc(func(ctx context.Context, query, contextID, taskID string) (*agent.Result, error) {
			return &agent.Result{Success: true, Content: "all done"}, nil
		}),
	}
}

func rpc(t *testing.T, srv *httptest.Server, method string, params any) schema.JSONRPCResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(schema.JSONRPCRequest{JSONRPC: "2.0", ID: "1", Method: method, Params: raw})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope schema.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func taskFrom(t *testing.T, envelope schema.JSONRPCResponse) schema.Task {
	t.Helper()
	require.Nil(t, envelope.Error, "unexpected rpc error: %+v", envelope.Error)
	raw, err := json.Marshal(envelope.Result)
	require.NoError(t, err)
	var task schema.Task
	require.NoError(t, json.Unmarshal(raw, &task))
	return task
}

func sendParams(contextID, text string) schema.MessageSendParams {
	return schema.MessageSendParams{Message: schema.Message{
		Role:      schema.RoleUser,
		Parts:     []schema.Part{schema.TextPart(text)},
		ContextID: contextID,
	}}
}

func TestMessageSendCompletesTask(t *testing.T) {
	srv := newTestServer(t, onePlanNode(), workerDone())

	task := taskFrom(t, rpc(t, srv, schema.MethodMessageSend, sendParams("ctx-1", "go")))
	assert.Equal(t, schema.TaskStateCompleted, task.Status.State)
	assert.True(t, task.Final)
	require.NotNil(t, task.Status.Message)
	assert.Contains(t, task.Status.Message.Parts[0].Text, "all done")
}

func TestMessageStreamDeliversOrderedNDJSON(t *testing.T) {
	srv := newTestServer(t, onePlanNode(), workerDone())

	raw, err := json.Marshal(sendParams("ctx-1", "go"))
	require.NoError(t, err)
	body, err := json.Marshal(schema.JSONRPCRequest{JSONRPC: "2.0", ID: "7", Method: schema.MethodMessageStream, Params: raw})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, ndjsonContentType, resp.Header.Get("Content-Type"))

	var events []schema.StatusUpdateEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var envelope struct {
			ID     any                      `json:"id"`
			Result schema.StatusUpdateEvent `json:"result"`
			Error  *schema.JSONRPCError     `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &envelope))
		require.Nil(t, envelope.Error)
		assert.Equal(t, "7", envelope.ID)
		events = append(events, envelope.Result)
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, events)
	assert.Equal(t, schema.TaskStateSubmitted, events[0].Status.State)
	finals := 0
	for _, ev := range events {
		if ev.Final {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
	last := events[len(events)-1]
	assert.True(t, last.Final)
	assert.Equal(t, schema.TaskStateCompleted, last.Status.State)
}

func TestTasksGetAndHistoryTrim(t *testing.T) {
	srv := newTestServer(t, onePlanNode(), workerDone())
	task := taskFrom(t, rpc(t, srv, schema.MethodMessageSend, sendParams("ctx-1", "go")))

	got := taskFrom(t, rpc(t, srv, schema.MethodTasksGet, schema.TaskIDParams{ID: task.ID}))
	assert.Equal(t, task.ID, got.ID)
	assert.NotEmpty(t, got.History)

	zero := 0
	trimmed := taskFrom(t, rpc(t, srv, schema.MethodTasksGet, schema.TaskIDParams{ID: task.ID, HistoryLength: &zero}))
	assert.Empty(t, trimmed.History)

	missing := rpc(t, srv, schema.MethodTasksGet, schema.TaskIDParams{ID: "nope"})
	require.NotNil(t, missing.Error)
	assert.Equal(t, schema.RPCInvalidParams, missing.Error.Code)
}

func TestTasksCancel(t *testing.T) {
	p := planner.PlannerFunc(func(ctx context.Context, query string, history []schema.Message) (*planner.PlanResult, error) {
		return &planner.PlanResult{RequiresInput: true, Question: "which one?"}, nil
	})
	srv := newTestServer(t, p, nil)

	task := taskFrom(t, rpc(t, srv, schema.MethodMessageSend, sendParams("ctx-1", "go")))
	require.Equal(t, schema.TaskStateInputRequired, task.Status.State)

	cancelled := taskFrom(t, rpc(t, srv, schema.MethodTasksCancel, schema.TaskIDParams{ID: task.ID}))
	assert.Equal(t, schema.TaskStateCancelled, cancelled.Status.State)
	assert.True(t, cancelled.Final)

	again := rpc(t, srv, schema.MethodTasksCancel, schema.TaskIDParams{ID: task.ID})
	require.NotNil(t, again.Error)
}

func TestTasksResubscribeReplays(t *testing.T) {
	srv := newTestServer(t, onePlanNode(), workerDone())
	task := taskFrom(t, rpc(t, srv, schema.MethodMessageSend, sendParams("ctx-1", "go")))

	raw, err := json.Marshal(schema.TaskIDParams{ID: task.ID})
	require.NoError(t, err)
	body, err := json.Marshal(schema.JSONRPCRequest{JSONRPC: "2.0", ID: "9", Method: schema.MethodTasksResubscribe, Params: raw})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var lastFinal bool
	var lastState schema.TaskState
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var envelope struct {
			Result schema.StatusUpdateEvent `json:"result"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &envelope))
		lastFinal = envelope.Result.Final
		lastState = envelope.Result.Status.State
	}
	require.NoError(t, scanner.Err())
	assert.True(t, lastFinal)
	assert.Equal(t, schema.TaskStateCompleted, lastState)
}

func TestUnknownMethodAndParseError(t *testing.T) {
	srv := newTestServer(t, onePlanNode(), workerDone())

	unknown := rpc(t, srv, "message/teleport", struct{}{})
	require.NotNil(t, unknown.Error)
	assert.Equal(t, schema.RPCMethodNotFound, unknown.Error.Code)

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	var envelope schema.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, schema.RPCParseError, envelope.Error.Code)
}

func TestAgentCardEndpoint(t *testing.T) {
	srv := newTestServer(t, onePlanNode(), workerDone())

	resp, err := http.Get(srv.URL + "/.well-known/agent.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card agent.Card
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "maestro", card.Name)
	assert.NotEmpty(t, card.URL)
}

func TestAgentsListing(t *testing.T) {
	srv := newTestServer(t, onePlanNode(), workerDone())

	resp, err := http.Get(srv.URL + "/agents")
	require.NoError(t, err)
	defer resp.Body.Close()

	var listing struct {
		Agents []agent.Card `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Agents, 1)
	assert.Equal(t, "worker", listing.Agents[0].Name)
}
