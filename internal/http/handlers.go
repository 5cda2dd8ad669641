package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/llmgw/internal/gateway"
	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/prefilter"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
)

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, ProvidersResponse{Providers: s.gateway.Providers()})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid create session request", zap.Error(err))
		return invalidRequest("invalid request body")
	}
	if req.Provider == "" {
		return invalidRequest("provider field is required")
	}

	info, err := s.gateway.CreateSession(c.Request().Context(), req.Provider, req.Model, req.SystemPrompt)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, SessionResponse{Info: info, Messages: []MessageDTO{}})
}

func (s *Server) handleGetSession(c echo.Context) error {
	snap, err := s.gateway.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSessionResponse(snap))
}

func (s *Server) handleSend(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid send request", zap.Error(err))
		return invalidRequest("invalid request body")
	}

	resp, err := s.gateway.Send(c.Request().Context(), c.Param("id"), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newResponseDTO(resp))
}

func (s *Server) handleCloseSession(c echo.Context) error {
	if err := s.gateway.CloseSession(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDispatch(c echo.Context) error {
	var req DispatchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid dispatch request", zap.Error(err))
		return invalidRequest("invalid request body")
	}

	msgs, err := dispatchMessages(req)
	if err != nil {
		return err
	}

	results, err := s.gateway.ParallelDispatch(c.Request().Context(), req.Providers, msgs)
	if results == nil && err != nil {
		return err
	}

	out := DispatchResponse{Results: make(map[string]DispatchItem, len(results))}
	for name, r := range results {
		out.Results[name] = newDispatchItem(r)
		if r.Err != nil {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}

	status := http.StatusOK
	if err != nil {
		le := llmerr.As(err)
		d := errorDetail(le)
		out.Error = &d
		status = statusForKind(le.Kind)
	}
	return c.JSON(status, out)
}

func dispatchMessages(req DispatchRequest) ([]provider.Message, error) {
	var msgs []provider.Message
	if req.System != "" {
		msgs = append(msgs, provider.NewMessage(provider.RoleSystem, req.System))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case provider.RoleSystem, provider.RoleUser, provider.RoleAssistant:
		default:
			return nil, invalidRequest("messages[%d]: unknown role %q", i, m.Role)
		}
		msgs = append(msgs, provider.NewMessage(m.Role, m.Content))
	}
	if strings.TrimSpace(req.Prompt) != "" {
		msgs = append(msgs, provider.NewMessage(provider.RoleUser, req.Prompt))
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role == provider.RoleSystem {
		return nil, invalidRequest("prompt or messages are required")
	}
	return msgs, nil
}

func (s *Server) handleEnhance(c echo.Context) error {
	var req EnhanceRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid enhance request", zap.Error(err))
		return invalidRequest("invalid request body")
	}

	greq := gateway.EnhanceRequest{
		SessionID:    req.SessionID,
		Provider:     req.Provider,
		Model:        req.Model,
		Text:         req.Text,
		Instructions: req.Instructions,
	}
	if len(req.Sources) > 0 {
		reg, err := prefilter.NewRegistry(req.Sources)
		if err != nil {
			return llmerr.Wrap(llmerr.KindInvalidRequest, err, "invalid sources")
		}
		greq.Sources = reg
	}

	result, err := s.gateway.Enhance(c.Request().Context(), greq)
	if result == nil {
		if err == nil {
			err = errors.New("enhance returned no result")
		}
		return err
	}

	status := http.StatusOK
	out := EnhanceResponse{Result: result}
	if err != nil {
		le := llmerr.As(err)
		d := errorDetail(le)
		out.Failure = &d
		status = statusForKind(le.Kind)
	}
	return c.JSON(status, out)
}
