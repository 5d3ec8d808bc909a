package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockSettings(responses ...string) *engine.Settings {
	s := engine.NewSettings()
	s.Type = engine.TypeMock
	s.Responses = responses
	return s
}

func newTestServer(t *testing.T, options ...Option) (*Server, *Registry) {
	registry := NewRegistry(mockSettings("Hello there"))
	return New(registry, options...), registry
}

func do(t *testing.T, s *Server, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, s *Server, systemPrompt string) string {
	rec := do(t, s, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{SystemPrompt: systemPrompt})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func memory(t *testing.T, s *Server, id string) []conversation.Message {
	rec := do(t, s, http.MethodGet, "/api/v1/sessions/"+id+"/memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs, err := conversation.MessagesFromJSON(rec.Body.Bytes())
	require.NoError(t, err)
	return msgs
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateSessionAndChat(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s, "You are helpful.")

	assert.Equal(t, []conversation.Message{conversation.NewSystemMessage("You are helpful.")}, memory(t, s, id))

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/chat", ChatRequest{Input: "hi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"response":"Hello there"}`, rec.Body.String())

	assert.Equal(t, []conversation.Message{
		conversation.NewSystemMessage("You are helpful."),
		conversation.NewUserMessage("hi"),
		conversation.NewAssistantMessage("Hello there"),
	}, memory(t, s, id))
}

func TestCreateSessionWithoutBody(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	msgs := memory(t, s, resp.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, session.DefaultSystemPrompt, msgs[0].Content)
}

func TestPromptDoesNotChangeMemory(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s, "")
	before := memory(t, s, id)

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/prompt", PromptRequest{Input: "x", UseHistory: false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"Hello there"}`, rec.Body.String())
	assert.Equal(t, before, memory(t, s, id))
}

func TestMemoryRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s, "sys")
	path := "/api/v1/sessions/" + id

	rec := do(t, s, http.MethodPut, path+"/memory", []conversation.Message{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, path+"/memory", []map[string]string{{"role": "bogus", "content": "x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, path+"/memory", []map[string]string{{"role": "user"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	replacement := []conversation.Message{
		conversation.NewSystemMessage("restored"),
		conversation.NewUserMessage("q"),
		conversation.NewAssistantMessage("a"),
	}
	rec = do(t, s, http.MethodPut, path+"/memory", replacement)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, replacement, memory(t, s, id))

	rec = do(t, s, http.MethodPut, path+"/system-prompt", SystemPromptRequest{Text: "Be terse."})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "Be terse.", memory(t, s, id)[0].Content)
	assert.Len(t, memory(t, s, id), 3)

	rec = do(t, s, http.MethodDelete, path+"/memory", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []conversation.Message{conversation.NewSystemMessage("Be terse.")}, memory(t, s, id))
}

func TestUnknownSession(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/sessions/nope/memory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions/nope/chat", ChatRequest{Input: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndDeleteSessions(t *testing.T) {
	s, registry := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ids":[]}`, rec.Body.String())

	first := createSession(t, s, "")
	second := createSession(t, s, "")

	rec = do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListSessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.ElementsMatch(t, []string{first, second}, list.IDs)

	rec = do(t, s, http.MethodDelete, "/api/v1/sessions/"+first, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{second}, registry.IDs())

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+first+"/memory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/v1/sessions/"+first, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidBody(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadErrorIsServiceUnavailable(t *testing.T) {
	settings := engine.NewSettings()
	settings.Type = engine.TypeOllama
	s := New(NewRegistry(settings))

	rec := do(t, s, http.MethodPost, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBusySessionIsConflict(t *testing.T) {
	s, registry := newTestServer(t)
	id := createSession(t, s, "")

	sess, err := registry.Get(id)
	require.NoError(t, err)
	st, err := sess.ChatStream(context.Background(), "hold on")
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/chat", ChatRequest{Input: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/v1/sessions/"+id+"/memory", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, st.Close())
	rec = do(t, s, http.MethodPost, "/api/v1/sessions/"+id+"/chat", ChatRequest{Input: "x"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToHTTPError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&conversation.ValidationError{Index: 0, Field: "role", Reason: "bad"}, http.StatusBadRequest},
		{errors.Wrap(ErrSessionNotFound, "x"), http.StatusNotFound},
		{session.ErrBusy, http.StatusConflict},
		{engine.NewLoadError("ollama", "m", errors.New("x")), http.StatusServiceUnavailable},
		{engine.NewRuntimeError("openai", errors.New("x")), http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, toHTTPError(c.err).Code, c.err.Error())
	}
}

func TestJWTProtectedRoutes(t *testing.T) {
	secret := "s3cret"
	s, _ := newTestServer(t, WithJWTSecret(secret))

	rec := do(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/sessions", nil, "Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bad, err := NewToken([]byte("other"), "tester", time.Hour)
	require.NoError(t, err)
	rec = do(t, s, http.MethodPost, "/api/v1/sessions", nil, "Authorization", "Bearer "+bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := NewToken([]byte(secret), "tester", -time.Hour)
	require.NoError(t, err)
	rec = do(t, s, http.MethodPost, "/api/v1/sessions", nil, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := NewToken([]byte(secret), "tester", time.Hour)
	require.NoError(t, err)
	rec = do(t, s, http.MethodPost, "/api/v1/sessions", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func dialSession(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/sessions/" + id + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntilTerminal(t *testing.T, conn *websocket.Conn) ([]string, ServerFrame) {
	var deltas []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame ServerFrame
		require.NoError(t, conn.ReadJSON(&frame))
		switch frame.Type {
		case FramePartial:
			deltas = append(deltas, frame.Delta)
		case FrameFinal, FrameError:
			return deltas, frame
		default:
			t.Fatalf("unexpected frame %q", frame.Type)
		}
	}
}

func TestWebsocketChat(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	id := createSession(t, s, "sys")
	conn := dialSession(t, ts, id)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameChat, Input: "hi"}))
	deltas, final := readUntilTerminal(t, conn)

	assert.Equal(t, []string{"Hello ", "there"}, deltas)
	assert.Equal(t, FrameFinal, final.Type)
	assert.Equal(t, "Hello there", final.Text)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FramePrompt, Input: "again"}))
	_, final = readUntilTerminal(t, conn)
	assert.Equal(t, "Hello there", final.Text)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "shout", Input: "x"}))
	_, final = readUntilTerminal(t, conn)
	assert.Equal(t, FrameError, final.Type)

	// the prompt frame left the log alone
	assert.Len(t, memory(t, s, id), 3)
}
