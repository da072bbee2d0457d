// End-to-end tests: a real HTTP server in front of the orchestrator, with
// remote agents (planner included) served by fake JSON-RPC endpoints.
package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/internal/agent"
	"github.com/maestro-ai/maestro/internal/orchestrator"
	"github.com/maestro-ai/maestro/internal/planner"
	"github.com/maestro-ai/maestro/internal/protocol"
	"github.com/maestro-ai/maestro/internal/server"
	"github.com/maestro-ai/maestro/internal/session"
	"github.com/maestro-ai/maestro/internal/store"
	"github.com/maestro-ai/maestro/internal/streaming"
	"github.com/maestro-ai/maestro/pkg/schema"
)

// fakeAgent serves the remote side of the executor protocol: a JSON-RPC
// message/send endpoint whose reply is computed from the inbound query.
func fakeAgent(t *testing.T, reply func(query string) (schema.TaskState, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req schema.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var params schema.MessageSendParams
		require.NoError(t, json.Unmarshal(req.Params, &params))

		query := ""
		for _, p := range params.Message.Parts {
			if p.Kind == schema.PartKindText {
				query += p.Text
			}
		}
		state, text := reply(query)

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"kind": "task",
				"status": map[string]any{
					"state": state,
					"message": map[string]any{
						"role":  "agent",
						"parts": []map[string]any{{"kind": "text", "text": text}},
					},
				},
			},
		}))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStack(t *testing.T, plannerURL string, workers map[string]string) *httptest.Server {
	t.Helper()
	s := store.NewMemoryStore()
	sessions := session.NewRegistry(s, time.Hour)
	tasks := protocol.NewTaskManager(s, time.Hour)
	agents := agent.NewRegistry(nil, nil, slog.Default())

	plannerExec := agent.NewHTTPExecutor(plannerURL, agent.HTTPExecutorConfig{Timeout: 5 * time.Second})
	p, err := planner.NewAgentPlanner(plannerExec)
	require.NoError(t, err)

	for name, url := range workers {
		exec := agent.NewHTTPExecutor(url, agent.HTTPExecutorConfig{Timeout: 5 * time.Second})
		require.NoError(t, agents.Register(name, agent.Card{Name: name, URL: url}, exec))
	}

	orch := orchestrator.New(sessions, tasks, agents, p, streaming.NewHub(), slog.Default(), orchestrator.Config{})
	srv := httptest.NewServer(server.New(orch, agents, slog.Default(), server.DefaultConfig()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method string, params any) schema.JSONRPCResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(schema.JSONRPCRequest{JSONRPC: "2.0", ID: "e2e", Method: method, Params: raw})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope schema.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func taskOf(t *testing.T, envelope schema.JSONRPCResponse) schema.Task {
	t.Helper()
	require.Nil(t, envelope.Error, "rpc error: %+v", envelope.Error)
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

const twoStepPlan = `{"nodes":[
  {"id":"research","agent":"research","query":"find the facts"},
  {"id":"write","agent":"write","query":"write the article","dependsOn":["research"]}
]}`

func TestFullPipelineOverHTTP(t *testing.T) {
	plannerSrv := fakeAgent(t, func(query string) (schema.TaskState, string) {
		return schema.TaskStateCompleted, twoStepPlan
	})
	research := fakeAgent(t, func(query string) (schema.TaskState, string) {
		return schema.TaskStateCompleted, "facts: the sky is blue"
	})
	write := fakeAgent(t, func(query string) (schema.TaskState, string) {
		if !strings.Contains(query, "facts: the sky is blue") {
			t.Errorf("writer did not receive upstream result: %q", query)
		}
		return schema.TaskStateCompleted, "article about the blue sky"
	})

	srv := newStack(t, plannerSrv.URL, map[string]string{
		"research": research.URL,
		"write":    write.URL,
	})

	task := taskOf(t, call(t, srv, schema.MethodMessageSend, sendParams("", "write about the sky")))
	assert.Equal(t, schema.TaskStateCompleted, task.Status.State)
	assert.True(t, task.Final)
	require.NotNil(t, task.Status.Message)
	summary := task.Status.Message.Parts[0].Text
	assert.Contains(t, summary, "article about the blue sky")

	// The persisted record matches what the wire returned.
	got := taskOf(t, call(t, srv, schema.MethodTasksGet, schema.TaskIDParams{ID: task.ID}))
	assert.Equal(t, task.Status.State, got.Status.State)
	assert.Len(t, got.Artifacts, 3) // two nodes plus the aggregate
}

func TestStreamingPipelineOverHTTP(t *testing.T) {
	plannerSrv := fakeAgent(t, func(query string) (schema.TaskState, string) {
		return schema.TaskStateCompleted, twoStepPlan
	})
	worker := fakeAgent(t, func(query string) (schema.TaskState, string) {
		return schema.TaskStateCompleted, "done"
	})

	srv := newStack(t, plannerSrv.URL, map[string]string{
		"research": worker.URL,
		"write":    worker.URL,
	})

	raw, err := json.Marshal(sendParams("", "stream it"))
	require.NoError(t, err)
	body, err := json.Marshal(schema.JSONRPCRequest{JSONRPC: "2.0", ID: "s", Method: schema.MethodMessageStream, Params: raw})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var states []schema.TaskState
	finals := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var envelope struct {
			Result schema.StatusUpdateEvent `json:"result"`
			Error  *schema.JSONRPCError     `json:"error"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &envelope))
		require.Nil(t, envelope.Error)
		states = append(states, envelope.Result.Status.State)
		if envelope.Result.Final {
			finals++
		}
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, states)
	assert.Equal(t, schema.TaskStateSubmitted, states[0])
	assert.Equal(t, schema.TaskStateCompleted, states[len(states)-1])
	assert.Equal(t, 1, finals)
}

func TestPauseAndResumeOverHTTP(t *testing.T) {
	plannerSrv := fakeAgent(t, func(query string) (schema.TaskState, string) {
		return schema.TaskStateCompleted, `{"nodes":[{"id":"book","agent":"booking","query":"book the hotel"}]}`
	})
	var bookingCalls atomic.Int32
	booking := fakeAgent(t, func(query string) (schema.TaskState, string) {
		if bookingCalls.Add(1) == 1 {
			return schema.TaskStateInputRequired, "how many nights?"
		}
		if !strings.Contains(query, "three nights") {
			t.Errorf("resumed call missing user input: %q", query)
		}
		return schema.TaskStateCompleted, "booked for three nights"
	})

	srv := newStack(t, plannerSrv.URL, map[string]string{"booking": booking.URL})

	first := taskOf(t, call(t, srv, schema.MethodMessageSend, sendParams("trip-1", "book me a hotel")))
	require.Equal(t, schema.TaskStateInputRequired, first.Status.State)
	assert.False(t, first.Final)
	assert.Equal(t, "how many nights?", first.Status.Message.Parts[0].Text)

	second := taskOf(t, call(t, srv, schema.MethodMessageSend, sendParams("trip-1", "three nights")))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, schema.TaskStateCompleted, second.Status.State)
	assert.Contains(t, second.Status.Message.Parts[0].Text, "booked for three nights")
	assert.Equal(t, int32(2), bookingCalls.Load())
}

func TestPlannerClarificationOverHTTP(t *testing.T) {
	var planCalls atomic.Int32
	plannerSrv := fakeAgent(t, func(query string) (schema.TaskState, string) {
		if planCalls.Add(1) == 1 {
			return schema.TaskStateCompleted, "Where would you like to go?"
		}
		return schema.TaskStateCompleted, `{"nodes":[{"id":"go","agent":"travel","query":"plan the trip"}]}`
	})
	travel := fakeAgent(t, func(query string) (schema.TaskState, string) {
		return schema.TaskStateCompleted, "trip planned"
	})

	srv := newStack(t, plannerSrv.URL, map[string]string{"travel": travel.URL})

	first := taskOf(t, call(t, srv, schema.MethodMessageSend, sendParams("trip-2", "plan a trip")))
	require.Equal(t, schema.TaskStateInputRequired, first.Status.State)
	assert.Equal(t, "Where would you like to go?", first.Status.Message.Parts[0].Text)

	second := taskOf(t, call(t, srv, schema.MethodMessageSend, sendParams("trip-2", "to Lisbon")))
	assert.Equal(t, schema.TaskStateCompleted, second.Status.State)
	assert.Contains(t, second.Status.Message.Parts[0].Text, "trip planned")
}
