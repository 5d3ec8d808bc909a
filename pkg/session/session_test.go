package session

import (
	"bytes"
	"context"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/events"
	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/go-go-golems/palaver/pkg/inference/engine/echo"
	"github.com/go-go-golems/palaver/pkg/inference/engine/mock"
	"github.com/go-go-golems/palaver/pkg/stream"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roles(msgs []conversation.Message) []conversation.Role {
	ret := make([]conversation.Role, len(msgs))
	for i, m := range msgs {
		ret[i] = m.Role
	}
	return ret
}

func TestNewSession(t *testing.T) {
	s := New(echo.NewEngine())

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, engine.DefaultContextSize, s.MaxContextSize())

	memory := s.GetMemory()
	require.Len(t, memory, 1)
	assert.Equal(t, conversation.NewSystemMessage(DefaultSystemPrompt), memory[0])
}

func TestChatRecordsBothTurns(t *testing.T) {
	eng := mock.NewEngine("Hello")
	s := New(eng, WithSystemPrompt("You are helpful."))

	reply, err := s.Chat(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)

	assert.Equal(t, []conversation.Message{
		conversation.NewSystemMessage("You are helpful."),
		conversation.NewUserMessage("hi"),
		conversation.NewAssistantMessage("Hello"),
	}, s.GetMemory())

	assert.Equal(t, []conversation.Message{
		conversation.NewSystemMessage("You are helpful."),
		conversation.NewUserMessage("hi"),
	}, eng.LastCall())
	assert.Equal(t, StateIdle, s.State())
}

func TestChatGrowsLogByTwo(t *testing.T) {
	s := New(mock.NewEngine("a", "b", "c"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		before := len(s.GetMemory())
		_, err := s.Chat(ctx, "question")
		require.NoError(t, err)
		assert.Equal(t, before+2, len(s.GetMemory()))
	}
}

func TestChatSendsFullHistory(t *testing.T) {
	eng := mock.NewEngine("first", "second")
	s := New(eng, WithSystemPrompt("sys"))
	ctx := context.Background()

	_, err := s.Chat(ctx, "one")
	require.NoError(t, err)
	_, err = s.Chat(ctx, "two")
	require.NoError(t, err)

	assert.Equal(t, []conversation.Message{
		conversation.NewSystemMessage("sys"),
		conversation.NewUserMessage("one"),
		conversation.NewAssistantMessage("first"),
		conversation.NewUserMessage("two"),
	}, eng.LastCall())
}

func TestChatEngineFailureKeepsUserTurn(t *testing.T) {
	cause := errors.New("model crashed")
	eng := mock.NewEngine("unused")
	eng.Err = cause
	s := New(eng)

	_, err := s.Chat(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, engine.IsRuntimeError(err))
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, []conversation.Role{conversation.RoleSystem, conversation.RoleUser}, roles(s.GetMemory()))
	assert.Equal(t, StateIdle, s.State())
}

func TestPromptLeavesMemoryUnchanged(t *testing.T) {
	eng := mock.NewEngine("Hello", "again")
	s := New(eng, WithSystemPrompt("sys"))
	ctx := context.Background()

	_, err := s.Chat(ctx, "hi")
	require.NoError(t, err)
	before := s.GetMemory()

	reply, err := s.Prompt(ctx, "what's up", false)
	require.NoError(t, err)
	assert.Equal(t, "again", reply)
	assert.Equal(t, before, s.GetMemory())

	// without history only the system prompt and the input are sent
	assert.Equal(t, []conversation.Message{
		conversation.NewSystemMessage("sys"),
		conversation.NewUserMessage("what's up"),
	}, eng.LastCall())
}

func TestPromptWithHistory(t *testing.T) {
	eng := mock.NewEngine("Hello", "again")
	s := New(eng, WithSystemPrompt("sys"))
	ctx := context.Background()

	_, err := s.Chat(ctx, "hi")
	require.NoError(t, err)

	_, err = s.Prompt(ctx, "more", true)
	require.NoError(t, err)
	assert.Equal(t, []conversation.Role{
		conversation.RoleSystem, conversation.RoleUser, conversation.RoleAssistant, conversation.RoleUser,
	}, roles(eng.LastCall()))
	assert.Len(t, s.GetMemory(), 3)
}

func TestClearMemory(t *testing.T) {
	s := New(mock.NewEngine("x"), WithSystemPrompt("sys"))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Chat(ctx, "q")
		require.NoError(t, err)
	}

	require.NoError(t, s.ClearMemory())
	assert.Equal(t, []conversation.Message{conversation.NewSystemMessage("sys")}, s.GetMemory())
}

func TestSetMemoryValidation(t *testing.T) {
	s := New(echo.NewEngine())
	before := s.GetMemory()

	err := s.SetMemory([]conversation.Message{})
	require.Error(t, err)
	assert.True(t, conversation.IsValidationError(err))

	err = s.SetMemory([]conversation.Message{conversation.NewMessage("bogus", "x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrValidation)

	assert.Equal(t, before, s.GetMemory())
}

func TestSetMemoryReplacesLog(t *testing.T) {
	s := New(echo.NewEngine())
	msgs := []conversation.Message{
		conversation.NewSystemMessage("restored"),
		conversation.NewUserMessage("q"),
		conversation.NewAssistantMessage("a"),
	}
	require.NoError(t, s.SetMemory(msgs))
	assert.Equal(t, msgs, s.GetMemory())

	// the caller's slice is not aliased
	msgs[0].Content = "changed"
	assert.Equal(t, "restored", s.GetMemory()[0].Content)
}

func TestModifySystemPrompt(t *testing.T) {
	eng := mock.NewEngine("Hello")
	s := New(eng, WithSystemPrompt("You are helpful."))
	ctx := context.Background()

	_, err := s.Chat(ctx, "hi")
	require.NoError(t, err)

	require.NoError(t, s.ModifySystemPrompt("Be terse."))
	assert.Equal(t, []conversation.Message{
		conversation.NewSystemMessage("Be terse."),
		conversation.NewUserMessage("hi"),
		conversation.NewAssistantMessage("Hello"),
	}, s.GetMemory())
}

func TestChatStreamMatchesChat(t *testing.T) {
	ctx := context.Background()

	blocking := New(mock.NewEngine("The answer is 42"), WithSystemPrompt("sys"))
	expected, err := blocking.Chat(ctx, "question")
	require.NoError(t, err)

	streaming := New(mock.NewEngine("The answer is 42"), WithSystemPrompt("sys"))
	st, err := streaming.ChatStream(ctx, "question")
	require.NoError(t, err)
	assert.Equal(t, StateGenerating, streaming.State())

	var b strings.Builder
	count := 0
	for fragment, err := range st.Tokens() {
		require.NoError(t, err)
		b.WriteString(fragment)
		count++
	}

	assert.Greater(t, count, 1)
	assert.Equal(t, expected, b.String())
	assert.Equal(t, blocking.GetMemory(), streaming.GetMemory())
	assert.Equal(t, StateIdle, streaming.State())
}

func TestChatStreamAndPrint(t *testing.T) {
	out := &bytes.Buffer{}
	eng := echo.NewEngine()
	s := New(eng, WithOutput(out))

	require.NoError(t, s.ChatStreamAndPrint(context.Background(), "echo me"))
	assert.Equal(t, "echo me", out.String())

	memory := s.GetMemory()
	require.Len(t, memory, 3)
	assert.Equal(t, conversation.NewAssistantMessage("echo me"), memory[2])
}

func TestPromptStreamLeavesMemoryUnchanged(t *testing.T) {
	out := &bytes.Buffer{}
	s := New(mock.NewEngine("one two"), WithOutput(out))
	before := s.GetMemory()

	require.NoError(t, s.PromptStreamAndPrint(context.Background(), "x", true))
	assert.Equal(t, "one two", out.String())
	assert.Equal(t, before, s.GetMemory())

	st, err := s.PromptStream(context.Background(), "y", false)
	require.NoError(t, err)
	for _, err := range st.Tokens() {
		require.NoError(t, err)
	}
	assert.Equal(t, before, s.GetMemory())
	assert.Equal(t, StateIdle, s.State())
}

func TestBusySessionRejectsCalls(t *testing.T) {
	s := New(mock.NewEngine("a b c"))
	ctx := context.Background()

	st, err := s.ChatStream(ctx, "first")
	require.NoError(t, err)
	before := s.GetMemory()

	_, err = s.Chat(ctx, "second")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Prompt(ctx, "second", true)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.ChatStream(ctx, "second")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.PromptStream(ctx, "second", false)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, s.ClearMemory(), ErrBusy)
	assert.ErrorIs(t, s.SetMemory([]conversation.Message{conversation.NewSystemMessage("x")}), ErrBusy)
	assert.ErrorIs(t, s.ModifySystemPrompt("x"), ErrBusy)

	assert.Equal(t, before, s.GetMemory())

	require.NoError(t, st.Close())
	assert.Equal(t, StateIdle, s.State())

	_, err = s.Chat(ctx, "third")
	require.NoError(t, err)
}

func TestAbandonedChatStreamRecordsOnlyUserTurn(t *testing.T) {
	s := New(mock.NewEngine("many words in this reply"))

	st, err := s.ChatStream(context.Background(), "hi")
	require.NoError(t, err)
	for fragment, err := range st.Tokens() {
		require.NoError(t, err)
		assert.Equal(t, "many ", fragment)
		break
	}

	assert.ErrorIs(t, st.Err(), stream.ErrAbandoned)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []conversation.Role{conversation.RoleSystem, conversation.RoleUser}, roles(s.GetMemory()))
}

func TestChatStreamMidStreamFailure(t *testing.T) {
	cause := errors.New("gpu fell off the bus")
	eng := mock.NewEngine("one two three")
	eng.Err = cause
	eng.FailAfter = 2
	s := New(eng)

	st, err := s.ChatStream(context.Background(), "hi")
	require.NoError(t, err)

	var got []string
	var last error
	for fragment, err := range st.Tokens() {
		if err != nil {
			last = err
			break
		}
		got = append(got, fragment)
	}

	assert.Equal(t, []string{"one ", "two "}, got)
	require.Error(t, last)
	assert.True(t, engine.IsRuntimeError(last))
	assert.ErrorIs(t, last, cause)
	assert.Equal(t, StateIdle, s.State())
	assert.Len(t, s.GetMemory(), 2)
}

func TestChatStreamAndPrintPropagatesFailure(t *testing.T) {
	cause := errors.New("boom")
	eng := mock.NewEngine("a b")
	eng.Err = cause
	eng.FailAfter = 1
	out := &bytes.Buffer{}
	s := New(eng, WithOutput(out))

	err := s.ChatStreamAndPrint(context.Background(), "hi")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "a ", out.String())
	assert.Equal(t, StateIdle, s.State())
}

func TestLoadSession(t *testing.T) {
	settings := engine.NewSettings()
	settings.Type = engine.TypeMock
	settings.ContextSize = 512
	settings.Responses = []string{"pong"}

	s, err := Load(context.Background(), settings, WithSystemPrompt("sys"))
	require.NoError(t, err)
	assert.Equal(t, 512, s.MaxContextSize())

	reply, err := s.Chat(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestLoadSessionFailure(t *testing.T) {
	settings := engine.NewSettings()
	settings.Type = engine.TypeOllama

	s, err := Load(context.Background(), settings)
	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, engine.IsLoadError(err))
}

func TestSessionEvents(t *testing.T) {
	sink := events.NewCollectingSink()
	s := New(mock.NewEngine("a b"), WithSink(sink), WithOutput(&bytes.Buffer{}))
	ctx := context.Background()

	_, err := s.Chat(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, s.ChatStreamAndPrint(ctx, "y"))

	assert.Equal(t, []events.EventType{
		events.EventTypeStart,
		events.EventTypeFinal,
		events.EventTypeStart,
		events.EventTypePartialCompletion,
		events.EventTypePartialCompletion,
		events.EventTypeFinal,
	}, sink.Types())

	for _, e := range sink.Events() {
		assert.Equal(t, s.ID, e.Metadata().SessionID)
		assert.True(t, e.Metadata().Stateful)
	}
}

func TestSaveAndLoadMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.yaml")
	s := New(mock.NewEngine("Hello"), WithSystemPrompt("sys"))
	_, err := s.Chat(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, s.SaveMemory(path))

	other := New(echo.NewEngine())
	require.NoError(t, other.LoadMemory(path))
	assert.Equal(t, s.GetMemory(), other.GetMemory())
}

// gatedEngine yields "a", then waits for release without looking at the
// context, and counts how many calls are in flight at once.
type gatedEngine struct {
	mu        sync.Mutex
	active    int
	maxActive int
	yielded   chan struct{}
	release   chan struct{}
}

func newGatedEngine() *gatedEngine {
	return &gatedEngine{
		yielded: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedEngine) enter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
}

func (g *gatedEngine) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active--
}

func (g *gatedEngine) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	g.enter()
	defer g.leave()
	return "ok", nil
}

func (g *gatedEngine) GenerateStream(ctx context.Context, messages []conversation.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		g.enter()
		defer g.leave()
		if !yield("a", nil) {
			return
		}
		g.yielded <- struct{}{}
		<-g.release
		yield("b", nil)
	}
}

func TestCloseWhileRangingKeepsSessionBusyUntilEngineReturns(t *testing.T) {
	eng := newGatedEngine()
	s := New(eng)

	st, err := s.ChatStream(context.Background(), "first")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range st.Tokens() {
		}
	}()

	select {
	case <-eng.yielded:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never produced its first fragment")
	}

	require.NoError(t, st.Close())
	assert.Equal(t, StateGenerating, s.State())
	_, err = s.Chat(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(eng.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never finished")
	}

	assert.ErrorIs(t, st.Err(), stream.ErrAbandoned)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, "a", st.Text())

	reply, err := s.Chat(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, 1, eng.maxActive)
	assert.Equal(t, []conversation.Role{
		conversation.RoleSystem, conversation.RoleUser, conversation.RoleUser, conversation.RoleAssistant,
	}, roles(s.GetMemory()))
}
