package conversation

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func testSeed() []ChatMessage {
	return NewPromptBuilder(PersonaFromText("Eres un asistente virtual para mi negocio.")).SeedTurns()
}

type failingBackend struct {
	loadErr   error
	saveErr   error
	deleteErr error
	saves     int
}

func (f *failingBackend) Load(context.Context, string) (*Session, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return nil, ErrSessionNotFound
}

func (f *failingBackend) Save(context.Context, *Session) error {
	f.saves++
	return f.saveErr
}

func (f *failingBackend) Delete(context.Context, string) error {
	return f.deleteErr
}

func TestSessionStore_GetOrCreateSeedsNewSender(t *testing.T) {
	backend := NewMemoryHistoryBackend()
	store := NewSessionStore(backend, testSeed())

	sess, err := store.GetOrCreate(context.Background(), "+5215550001")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(sess.History) != 2 {
		t.Fatalf("expected 2 seed turns, got %d", len(sess.History))
	}
	if sess.History[0].Role != ChatRoleUser || sess.History[1].Role != ChatRoleAssistant {
		t.Fatalf("unexpected seed roles: %+v", sess.History)
	}
	if sess.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be set")
	}
	if backend.Len() != 1 {
		t.Fatalf("expected session to be persisted on create")
	}
}

func TestSessionStore_GetOrCreateReturnsExistingUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(NewMemoryHistoryBackend(), testSeed())

	first, err := store.GetOrCreate(ctx, "a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.Append(ctx, first, UserTurn("hola"), AssistantTurn("¡Hola!")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	second, err := store.GetOrCreate(ctx, "a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !reflect.DeepEqual(second.History, first.History) {
		t.Fatalf("expected existing history, got %+v", second.History)
	}
	third, _ := store.GetOrCreate(ctx, "a")
	if !reflect.DeepEqual(third.History, second.History) {
		t.Fatalf("repeated GetOrCreate changed history")
	}
}

func TestSessionStore_AppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(NewMemoryHistoryBackend(), testSeed())
	sess, _ := store.GetOrCreate(ctx, "a")

	_ = store.Append(ctx, sess, UserTurn("u1"), AssistantTurn("a1"))
	_ = store.Append(ctx, sess, UserTurn("u2"), AssistantTurn("a2"))

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := append(testSeed(), UserTurn("u1"), AssistantTurn("a1"), UserTurn("u2"), AssistantTurn("a2"))
	if !reflect.DeepEqual(got.History, want) {
		t.Fatalf("unexpected history:\n got %+v\nwant %+v", got.History, want)
	}
}

func TestSessionStore_GetAndReset(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(NewMemoryHistoryBackend(), testSeed())

	if _, err := store.Get(ctx, "nobody"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	sess, _ := store.GetOrCreate(ctx, "a")
	_ = store.Append(ctx, sess, UserTurn("u1"), AssistantTurn("a1"))

	if err := store.Reset(ctx, "a"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	fresh, _ := store.GetOrCreate(ctx, "a")
	if len(fresh.History) != 2 {
		t.Fatalf("expected reseeded session after reset, got %d turns", len(fresh.History))
	}
}

func TestSessionStore_PersistenceErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	store := NewSessionStore(&failingBackend{loadErr: boom}, testSeed())
	_, err := store.GetOrCreate(ctx, "a")
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "load" || !errors.Is(err, boom) {
		t.Fatalf("expected load PersistenceError wrapping boom, got %v", err)
	}

	backend := &failingBackend{saveErr: boom}
	store = NewSessionStore(backend, testSeed())
	if _, err := store.GetOrCreate(ctx, "a"); !errors.As(err, &perr) || perr.Op != "create" {
		t.Fatalf("expected create PersistenceError, got %v", err)
	}

	sess := store.Seeded("a")
	err = store.Append(ctx, sess, UserTurn("u"), AssistantTurn("a"))
	if !errors.As(err, &perr) || perr.Op != "save" || perr.SenderID != "a" {
		t.Fatalf("expected save PersistenceError, got %v", err)
	}
	if len(sess.History) != 4 {
		t.Fatalf("in-memory session should keep appended turns, got %d", len(sess.History))
	}

	store = NewSessionStore(&failingBackend{deleteErr: boom}, testSeed())
	if err := store.Reset(ctx, "a"); !errors.Is(err, boom) {
		t.Fatalf("expected reset error, got %v", err)
	}
}

func TestSessionStore_SeededIsIndependent(t *testing.T) {
	store := NewSessionStore(NewMemoryHistoryBackend(), testSeed())
	a := store.Seeded("a")
	b := store.Seeded("b")
	a.History[1].Content = "changed"
	if b.History[1].Content == "changed" {
		t.Fatalf("seeded sessions must not share history")
	}
}

func TestSessionStore_ConcurrentSendersAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(NewMemoryHistoryBackend(), testSeed())
	senders := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}

	var wg sync.WaitGroup
	for _, id := range senders {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sess, err := store.GetOrCreate(ctx, id)
			if err != nil {
				t.Errorf("GetOrCreate(%s): %v", id, err)
				return
			}
			if err := store.Append(ctx, sess, UserTurn("from "+id), AssistantTurn("to "+id)); err != nil {
				t.Errorf("Append(%s): %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range senders {
		sess, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if len(sess.History) != 4 || sess.History[2].Content != "from "+id {
			t.Fatalf("sender %s history leaked or lost: %+v", id, sess.History)
		}
	}
}

func TestHistoryCodec(t *testing.T) {
	history := []ChatMessage{UserTurn("hola"), AssistantTurn("¡Hola! ¿En qué te ayudo?")}
	data, err := EncodeHistory(history)
	if err != nil {
		t.Fatalf("EncodeHistory: %v", err)
	}
	want := `[{"role":"user","parts":["hola"]},{"role":"model","parts":["¡Hola! ¿En qué te ayudo?"]}]`
	if string(data) != want {
		t.Fatalf("unexpected encoding: %s", data)
	}

	decoded, err := DecodeHistory([]byte(`[{"role":"user","parts":["a","b"]},{"role":"assistant","parts":["c"]},{"role":"MODEL","parts":[]}]`))
	if err != nil {
		t.Fatalf("DecodeHistory: %v", err)
	}
	expected := []ChatMessage{UserTurn("ab"), AssistantTurn("c"), AssistantTurn("")}
	if !reflect.DeepEqual(decoded, expected) {
		t.Fatalf("unexpected decode: %+v", decoded)
	}

	if _, err := DecodeHistory([]byte(`[{"role":"system","parts":["x"]}]`)); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if _, err := DecodeHistory([]byte(`{`)); err == nil {
		t.Fatalf("expected json error")
	}
}
