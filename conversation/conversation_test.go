package conversation

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/campus-assistant/chat"
)

type echoAnswerer struct{}

func (echoAnswerer) Answer(_ context.Context, question string) chat.Response {
	return chat.Response{Answer: "re: " + question}
}

type panickingAnswerer struct{}

func (panickingAnswerer) Answer(context.Context, string) chat.Response {
	panic("index exploded")
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestHandleRecordsHistory(t *testing.T) {
	store := NewMemoryStore(0)
	svc := NewService(echoAnswerer{}, store, quietLogger())
	ctx := context.Background()

	assert.Equal(t, "re: hola", svc.Handle(ctx, "+51999", "hola"))
	assert.Equal(t, "re: chau", svc.Handle(ctx, "+51999", "chau"))
	svc.Handle(ctx, "+51888", "otro")

	history, err := svc.History(ctx, "+51999")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hola", history[0].Question)
	assert.Equal(t, "re: chau", history[1].Answer)
	assert.False(t, history[0].At.IsZero())
	assert.Equal(t, 2, store.Senders())
}

func TestHandleRecoversPanics(t *testing.T) {
	store := NewMemoryStore(0)
	svc := NewService(panickingAnswerer{}, store, quietLogger())

	assert.Equal(t, ApologyMessage, svc.Handle(context.Background(), "+51999", "¿qué cursos hay?"))

	history, err := store.History(context.Background(), "+51999")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandleWithoutAnswerer(t *testing.T) {
	svc := NewService(nil, nil, quietLogger())
	assert.Equal(t, ApologyMessage, svc.Handle(context.Background(), "+51999", "hola a todos"))
}

func TestMemoryStoreCapsTurns(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "a", Turn{Question: fmt.Sprint(i)}))
	}

	history, err := store.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "3", history[0].Question)
	assert.Equal(t, "4", history[1].Question)
}

func TestMemoryStoreHistoryIsACopy(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "a", Turn{Question: "q"}))

	history, _ := store.History(ctx, "a")
	history[0].Question = "changed"

	again, _ := store.History(ctx, "a")
	assert.Equal(t, "q", again[0].Question)
}

func TestMemoryStoreConcurrentSenders(t *testing.T) {
	store := NewMemoryStore(0)
	svc := NewService(echoAnswerer{}, store, quietLogger())
	ctx := context.Background()

	const senders, messages = 8, 25
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for m := 0; m < messages; m++ {
				svc.Handle(ctx, sender, fmt.Sprintf("mensaje %d", m))
				_, _ = store.History(ctx, sender)
			}
		}(fmt.Sprintf("+5190000000%d", s))
	}
	wg.Wait()

	assert.Equal(t, senders, store.Senders())
	for s := 0; s < senders; s++ {
		history, err := store.History(ctx, fmt.Sprintf("+5190000000%d", s))
		require.NoError(t, err)
		require.Len(t, history, messages)
		for m, turn := range history {
			assert.Equal(t, fmt.Sprintf("mensaje %d", m), turn.Question, "turns keep arrival order per sender")
		}
	}
}
