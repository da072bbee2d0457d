package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maestro-ai/maestro/internal/streaming"
	"github.com/maestro-ai/maestro/pkg/schema"
)

const ndjsonContentType = "application/x-ndjson"

// handleRPC parses the envelope and dispatches by method. JSON-RPC errors ride
// on HTTP 200; transport-level problems are the only non-200 responses.
func (s *Server) handleRPC(c *gin.Context) {
	var req schema.JSONRPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, schema.NewErrorResponse(nil, schema.RPCParseError, "parse error: "+err.Error()))
		return
	}

	switch req.Method {
	case schema.MethodMessageSend:
		s.handleSend(c, req)
	case schema.MethodMessageStream:
		s.handleStream(c, req)
	case schema.MethodTasksGet:
		s.handleTasksGet(c, req)
	case schema.MethodTasksCancel:
		s.handleTasksCancel(c, req)
	case schema.MethodTasksResubscribe:
		s.handleResubscribe(c, req)
	default:
		c.JSON(http.StatusOK, schema.NewErrorResponse(req.ID, schema.RPCMethodNotFound, "unknown method "+req.Method))
	}
}

func (s *Server) handleSend(c *gin.Context, req schema.JSONRPCRequest) {
	var params schema.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, schema.NewErrorResponse(req.ID, schema.RPCInvalidParams, "invalid params: "+err.Error()))
		return
	}

	task, err := s.orch.ProcessMessage(c.Request.Context(), params.Message, nil)
	if err != nil {
		c.JSON(http.StatusOK, rpcError(req.ID, err))
		return
	}
	c.JSON(http.StatusOK, schema.NewResponse(req.ID, task))
}

// handleStream runs the request with a live event stream, writing one JSON-RPC
// envelope per line as events arrive.
func (s *Server) handleStream(c *gin.Context, req schema.JSONRPCRequest) {
	var params schema.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, schema.NewErrorResponse(req.ID, schema.RPCInvalidParams, "invalid params: "+err.Error()))
		return
	}

	stream := streaming.NewStream(0)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.orch.ProcessMessage(c.Request.Context(), params.Message, stream)
		stream.Close()
		errCh <- err
	}()

	s.drainToWire(c, req.ID, stream)
	if err := <-errCh; err != nil {
		s.writeFrame(c, rpcError(req.ID, err))
	}
}

// handleResubscribe replays persisted task state as a stream, staying attached
// for live events when the task is still in flight.
func (s *Server) handleResubscribe(c *gin.Context, req schema.JSONRPCRequest) {
	var params schema.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, schema.NewErrorResponse(req.ID, schema.RPCInvalidParams, "invalid params: "+err.Error()))
		return
	}

	stream := streaming.NewStream(0)
	errCh := make(chan error, 1)
	go func() {
		err := s.orch.Resubscribe(c.Request.Context(), params.ID, stream)
		stream.Close()
		errCh <- err
	}()

	s.drainToWire(c, req.ID, stream)
	if err := <-errCh; err != nil {
		s.writeFrame(c, rpcError(req.ID, err))
	}
}

func (s *Server) handleTasksGet(c *gin.Context, req schema.JSONRPCRequest) {
	var params schema.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, schema.NewErrorResponse(req.ID, schema.RPCInvalidParams, "invalid params: "+err.Error()))
		return
	}

	historyLength := -1
	if params.HistoryLength != nil {
		historyLength = *params.HistoryLength
	}
	task, err := s.orch.GetTask(c.Request.Context(), params.ID, historyLength)
	if err != nil {
		c.JSON(http.StatusOK, rpcError(req.ID, err))
		return
	}
	c.JSON(http.StatusOK, schema.NewResponse(req.ID, task))
}

func (s *Server) handleTasksCancel(c *gin.Context, req schema.JSONRPCRequest) {
	var params schema.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, schema.NewErrorResponse(req.ID, schema.RPCInvalidParams, "invalid params: "+err.Error()))
		return
	}

	task, err := s.orch.CancelTask(c.Request.Context(), params.ID)
	if err != nil {
		c.JSON(http.StatusOK, rpcError(req.ID, err))
		return
	}
	c.JSON(http.StatusOK, schema.NewResponse(req.ID, task))
}

// drainToWire forwards stream events to the response as NDJSON, flushing after
// every frame so delivery order matches production order.
func (s *Server) drainToWire(c *gin.Context, id any, stream *streaming.Stream) {
	c.Header("Content-Type", ndjsonContentType)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	for event := range stream.Events() {
		s.writeFrame(c, schema.NewResponse(id, event))
	}
}

func (s *Server) writeFrame(c *gin.Context, frame schema.JSONRPCResponse) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("encode frame", "error", err)
		return
	}
	if _, err := c.Writer.Write(append(data, '\n')); err != nil {
		s.logger.Warn("client went away", "error", err)
		return
	}
	c.Writer.Flush()
}

// rpcError maps an orchestration error to a JSON-RPC error member.
func rpcError(id any, err error) schema.JSONRPCResponse {
	var me *schema.MaestroError
	if !errors.As(err, &me) {
		return schema.NewErrorResponse(id, schema.RPCInternalError, err.Error())
	}

	code := schema.RPCInternalError
	switch me.Code {
	case schema.ErrCodeValidation, schema.ErrCodeNotFound, schema.ErrCodeInvalidTransition:
		code = schema.RPCInvalidParams
	}
	resp := schema.NewErrorResponse(id, code, me.Message)
	resp.Error.Data = map[string]any{"code": me.Code}
	return resp
}
