package state

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

func user(content string) Message      { return Message{Role: RoleUser, Content: content} }
func assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

func toolCallMsg(id, name string) Message {
	return Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(`{"query":"x"}`)}}}
}

func toolResult(id, content string) Message {
	return Message{Role: RoleTool, ToolCallID: id, Content: content}
}

func TestConversation_AppendPairing(t *testing.T) {
	c, err := NewConversation([]Message{user("hi"), toolCallMsg("call_1", "search_memory"), toolResult("call_1", "[]")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", c.Len())
	}

	err = c.Append(toolResult("call_9", "orphan"))
	if memErrors.AsCode(err) != memErrors.CodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE for orphan tool message, got %v", err)
	}
	if c.Len() != 3 {
		t.Errorf("rejected append must not change history, got %d", c.Len())
	}
}

func TestConversation_ToolBeforeCallRejected(t *testing.T) {
	_, err := NewConversation([]Message{toolResult("call_1", "x"), toolCallMsg("call_1", "search_memory")})
	if memErrors.AsCode(err) != memErrors.CodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE, got %v", err)
	}
}

func TestConversation_ToolResultsAnswerOpenCalls(t *testing.T) {
	twoCalls := Message{Role: RoleAssistant, ToolCalls: []ToolCall{
		{ID: "call_1", Name: "search_memory"},
		{ID: "call_2", Name: "upsert_memory"},
	}}
	cases := map[string][]Message{
		"result after user":     {user("hi"), toolCallMsg("call_1", "search_memory"), toolResult("call_1", "[]"), user("next"), toolResult("call_1", "[]")},
		"duplicate answer":      {user("hi"), twoCalls, toolResult("call_1", "[]"), toolResult("call_1", "[]")},
		"unanswered then user":  {user("hi"), twoCalls, toolResult("call_1", "[]"), user("next")},
		"unanswered then model": {user("hi"), toolCallMsg("call_1", "search_memory"), assistant("done")},
		"reused call id":        {user("hi"), toolCallMsg("call_1", "search_memory"), toolResult("call_1", "[]"), toolCallMsg("call_1", "search_memory")},
	}
	for name, msgs := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewConversation(msgs); memErrors.AsCode(err) != memErrors.CodeInvalidMessage {
				t.Errorf("expected INVALID_MESSAGE, got %v", err)
			}
		})
	}

	c, err := NewConversation([]Message{user("hi"), twoCalls, toolResult("call_2", "ok")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Append(user("too early")); memErrors.AsCode(err) != memErrors.CodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE while call_1 is open, got %v", err)
	}
	if err := c.Append(toolResult("call_1", "[]"), assistant("all done"), user("thanks")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 6 {
		t.Errorf("expected 6 messages, got %d", c.Len())
	}
}

func TestConversation_BlankUserContentIsUsage(t *testing.T) {
	for _, content := range []string{"", "  \n"} {
		_, err := NewConversation([]Message{user(content)})
		if memErrors.AsCode(err) != memErrors.CodeUsage {
			t.Errorf("content %q: expected USAGE, got %v", content, err)
		}
	}
	if _, err := NewConversation([]Message{user("hi"), assistant("")}); err != nil {
		t.Errorf("empty assistant reply should be kept, got %v", err)
	}
}

func TestConversation_InvalidMessages(t *testing.T) {
	cases := map[string]Message{
		"unknown role":          {Role: "robot", Content: "x"},
		"tool without call id":  {Role: RoleTool, Content: "x"},
		"user with tool calls":  {Role: RoleUser, ToolCalls: []ToolCall{{ID: "a", Name: "b"}}},
		"call without name":     {Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a"}}},
		"assistant with callid": {Role: RoleAssistant, ToolCallID: "a"},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewConversation([]Message{msg}); memErrors.AsCode(err) != memErrors.CodeInvalidMessage {
				t.Errorf("expected INVALID_MESSAGE, got %v", err)
			}
		})
	}
}

func TestConversation_Merge(t *testing.T) {
	stored := []Message{user("hi"), assistant("hello")}

	t.Run("full list appends suffix", func(t *testing.T) {
		c, _ := NewConversation(stored)
		if err := c.Merge(append(CloneMessages(stored), user("how are you"))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msgs := c.Messages()
		if len(msgs) != 3 || msgs[2].Content != "how are you" {
			t.Errorf("unexpected history %+v", msgs)
		}
	})

	t.Run("delta appends everything", func(t *testing.T) {
		c, _ := NewConversation(stored)
		if err := c.Merge([]Message{user("how are you")}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Len() != 3 {
			t.Errorf("expected 3 messages, got %d", c.Len())
		}
	})

	t.Run("diverging list never overwrites", func(t *testing.T) {
		c, _ := NewConversation(stored)
		if err := c.Merge([]Message{user("bye"), assistant("ciao")}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msgs := c.Messages()
		if len(msgs) != 4 || msgs[0].Content != "hi" || msgs[1].Content != "hello" {
			t.Errorf("stored history was rewritten: %+v", msgs)
		}
	})

	t.Run("timestamps ignored in prefix match", func(t *testing.T) {
		c, _ := NewConversation(stored)
		echoed := CloneMessages(stored)
		echoed[0].Timestamp = time.Now()
		echoed = append(echoed, user("next"))
		c.Merge(echoed)
		if c.Len() != 3 {
			t.Errorf("expected suffix append, got %d messages", c.Len())
		}
	})

	t.Run("tool message may answer stored call", func(t *testing.T) {
		c, _ := NewConversation([]Message{user("hi"), toolCallMsg("call_1", "search_memory")})
		if err := c.Merge([]Message{toolResult("call_1", "[]")}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestConversation_MessagesIsCopy(t *testing.T) {
	c, _ := NewConversation([]Message{toolCallMsg("call_1", "search_memory")})
	msgs := c.Messages()
	msgs[0].ToolCalls[0].Name = "mutated"
	msgs[0].ToolCalls[0].Arguments[0] = '['
	if again := c.Messages(); again[0].ToolCalls[0].Name != "search_memory" || again[0].ToolCalls[0].Arguments[0] != '{' {
		t.Errorf("history leaked through Messages(): %+v", again[0])
	}
	if last := c.Last(5); len(last) != 1 {
		t.Errorf("expected 1 message, got %d", len(last))
	}
	empty, _ := NewConversation(nil)
	if empty.Messages() == nil {
		t.Error("expected non-nil empty history")
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return map[string]Store{"memory": NewMemoryStore(), "sqlite": sqlite}
}

func TestStores_SaveLoadDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			mgr := NewManagerWithStore(store, 0, nil)
			defer mgr.Close()
			ctx := context.Background()

			if _, err := mgr.Load(ctx, "t1"); !errors.Is(err, memErrors.ErrNotFound) {
				t.Fatalf("expected NOT_FOUND, got %v", err)
			}

			cp := &Checkpoint{ThreadID: "t1", UserID: "alice", Messages: []Message{user("hi"), toolCallMsg("c1", "upsert_memory")}}
			if err := mgr.Save(ctx, cp); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			created := cp.CreatedAt
			mgr.Save(ctx, &Checkpoint{ThreadID: "t2", UserID: "bob", Messages: []Message{user("yo")}})

			got, err := mgr.Load(ctx, "t1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got.Messages) != 2 || got.UserID != "alice" || string(got.Messages[1].ToolCalls[0].Arguments) != `{"query":"x"}` {
				t.Errorf("unexpected checkpoint %+v", got)
			}

			got.Messages = append(got.Messages, assistant("later"))
			if err := mgr.Save(ctx, got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			again, _ := mgr.Load(ctx, "t1")
			if len(again.Messages) != 3 || !again.CreatedAt.Equal(created) {
				t.Errorf("expected 3 messages and stable created_at, got %d / %v vs %v", len(again.Messages), again.CreatedAt, created)
			}

			threads, err := mgr.List(ctx, 10)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(threads) != 2 || threads[0].ThreadID != "t1" || threads[0].Messages != 3 {
				t.Errorf("unexpected thread list %+v", threads)
			}

			if err := mgr.Delete(ctx, "t1"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := mgr.Delete(ctx, "t1"); !errors.Is(err, memErrors.ErrNotFound) {
				t.Errorf("expected NOT_FOUND, got %v", err)
			}
		})
	}
}

func TestSQLiteStore_CorruptThreadIsStorageError(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgr := NewManagerWithStore(store, 0, nil)
	defer mgr.Close()
	ctx := context.Background()

	if err := mgr.Save(ctx, &Checkpoint{ThreadID: "t1", Messages: []Message{user("hi")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.db.Exec("UPDATE threads SET messages = '{not json' WHERE thread_id = 't1'"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := mgr.Load(ctx, "t1"); memErrors.AsCode(err) != memErrors.CodeStorage {
		t.Errorf("expected STORAGE, got %v", err)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Now().UTC()
	first.Save(context.Background(), &Checkpoint{ThreadID: "t1", Messages: []Message{user("hi")}, CreatedAt: now, UpdatedAt: now})
	first.Close()

	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer second.Close()
	got, err := second.Load(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hi" || !got.CreatedAt.Equal(now) {
		t.Errorf("unexpected checkpoint after reopen %+v", got)
	}
}

func TestMemoryStore_IsolatesCallers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cp := &Checkpoint{ThreadID: "t1", Messages: []Message{user("hi")}}
	store.Save(ctx, cp)
	cp.Messages[0].Content = "mutated"

	got, _ := store.Load(ctx, "t1")
	if got.Messages[0].Content != "hi" {
		t.Errorf("store kept a reference to the caller's slice")
	}
}

func TestNewManager_Drivers(t *testing.T) {
	mgr, err := NewManager("sqlite", filepath.Join(t.TempDir(), "s", "state.db"), 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgr.Close()

	if _, err := NewManager("postgres", "", 0, nil); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestManager_LockSerializesSameThread(t *testing.T) {
	mgr := NewManagerWithStore(NewMemoryStore(), 0, nil)
	defer mgr.Close()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := mgr.Lock(ctx, "same")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most one holder, saw %d", maxActive)
	}
}

func TestManager_LockDifferentThreadsConcurrent(t *testing.T) {
	mgr := NewManagerWithStore(NewMemoryStore(), 0, nil)
	defer mgr.Close()
	ctx := context.Background()

	unlockA, err := mgr.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlockA()

	lockCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := mgr.Lock(lockCtx, "b")
	if err != nil {
		t.Fatalf("thread b should not wait for thread a: %v", err)
	}
	unlockB()
}

func TestManager_LockHonoursCancellation(t *testing.T) {
	mgr := NewManagerWithStore(NewMemoryStore(), 0, nil)
	defer mgr.Close()

	unlock, _ := mgr.Lock(context.Background(), "t")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mgr.Lock(ctx, "t"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	again, err := mgr.Lock(context.Background(), "t")
	if err != nil {
		t.Fatalf("lock should be free after release: %v", err)
	}
	again()

	mgr.mu.Lock()
	n := len(mgr.threads)
	mgr.mu.Unlock()
	if n != 0 {
		t.Errorf("expected released lock entries to be dropped, got %d", n)
	}
}

func TestManager_Reap(t *testing.T) {
	mgr := NewManagerWithStore(NewMemoryStore(), time.Minute, nil)
	defer mgr.Close()
	ctx := context.Background()

	unlock, _ := mgr.Lock(ctx, "idle")
	unlock()
	held, _ := mgr.Lock(ctx, "held")
	defer held()

	if n := mgr.reap(time.Now()); n != 0 {
		t.Errorf("nothing should be idle yet, reaped %d", n)
	}
	if n := mgr.reap(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("expected only the idle entry reaped, got %d", n)
	}
}
