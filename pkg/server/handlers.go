package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/labstack/echo/v4"
)

type CreateSessionRequest struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type CreateSessionResponse struct {
	ID string `json:"id"`
}

type ListSessionsResponse struct {
	IDs []string `json:"ids"`
}

type SystemPromptRequest struct {
	Text string `json:"text"`
}

type ChatRequest struct {
	Input string `json:"input"`
}

type PromptRequest struct {
	Input      string `json:"input"`
	UseHistory bool   `json:"use_history"`
}

type CompletionResponse struct {
	Response string `json:"response"`
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(c echo.Context, v interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}

func (s *Server) lookup(c echo.Context) (*session.Session, error) {
	sess, err := s.registry.Get(c.Param("id"))
	if err != nil {
		return nil, toHTTPError(err)
	}
	return sess, nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	sess, err := s.registry.Create(c.Request().Context(), req.SystemPrompt)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, CreateSessionResponse{ID: sess.ID})
}

func (s *Server) listSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, ListSessionsResponse{IDs: s.registry.IDs()})
}

func (s *Server) deleteSession(c echo.Context) error {
	if err := s.registry.Remove(c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getMemory(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.GetMemory())
}

func (s *Server) setMemory(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}

	var msgs []conversation.Message
	if err := decodeBody(c, &msgs); err != nil {
		return err
	}
	if err := sess.SetMemory(msgs); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) clearMemory(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	if err := sess.ClearMemory(); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) modifySystemPrompt(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}

	var req SystemPromptRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := sess.ModifySystemPrompt(req.Text); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) chat(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}

	var req ChatRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	response, err := sess.Chat(c.Request().Context(), req.Input)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, CompletionResponse{Response: response})
}

func (s *Server) prompt(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}

	var req PromptRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	response, err := sess.Prompt(c.Request().Context(), req.Input, req.UseHistory)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, CompletionResponse{Response: response})
}
