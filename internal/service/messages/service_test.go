package messages

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiclass/chat-backend/internal/realtime"
	"github.com/lumiclass/chat-backend/internal/storage/postgres"
	"github.com/lumiclass/chat-backend/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeMessageStore mimics the postgres repository contract, including
// unique-constraint idempotency on (thread, client_msg_id).
type fakeMessageStore struct {
	mu    sync.Mutex
	seq   int64
	byID  map[uuid.UUID]*types.Message
	byKey map[string]uuid.UUID
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		byID:  make(map[uuid.UUID]*types.Message),
		byKey: make(map[string]uuid.UUID),
	}
}

func key(threadID uuid.UUID, clientMsgID string) string {
	return threadID.String() + "/" + clientMsgID
}

func (f *fakeMessageStore) Create(_ context.Context, msg *types.Message) (*types.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(msg.ThreadID, msg.ClientMsgID)
	if id, ok := f.byKey[k]; ok {
		existing := *f.byID[id]
		return &existing, false, nil
	}

	f.seq++
	stored := *msg
	stored.ID = uuid.New()
	stored.Seq = f.seq
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	f.byID[stored.ID] = &stored
	f.byKey[k] = stored.ID

	out := stored
	return &out, true, nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, id uuid.UUID) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.byID[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	out := *msg
	return &out, nil
}

func (f *fakeMessageStore) GetByClientMsgID(_ context.Context, threadID uuid.UUID, clientMsgID string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byKey[key(threadID, clientMsgID)]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	out := *f.byID[id]
	return &out, nil
}

func (f *fakeMessageStore) setStatus(id uuid.UUID, allowed []types.MessageStatus, to types.MessageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.byID[id]
	if !ok {
		return postgres.ErrNotFound
	}
	for _, s := range allowed {
		if msg.Status == s {
			msg.Status = to
			msg.UpdatedAt = time.Now()
			return nil
		}
	}
	if msg.Status == to {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", postgres.ErrInvalidTransition, msg.Status, to)
}

func (f *fakeMessageStore) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return f.setStatus(id, []types.MessageStatus{types.StatusQueued}, types.StatusProcessing)
}

func (f *fakeMessageStore) Complete(_ context.Context, id uuid.UUID, content string, meta *types.MessageMeta) error {
	if err := f.setStatus(id, []types.MessageStatus{types.StatusQueued, types.StatusProcessing}, types.StatusCompleted); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.byID[id]
	if msg.Status == types.StatusCompleted && msg.CompletedAt == nil {
		now := time.Now()
		msg.Content = content
		msg.Meta = meta
		msg.CompletedAt = &now
	}
	return nil
}

func (f *fakeMessageStore) Fail(_ context.Context, id uuid.UUID, summary string) error {
	if err := f.setStatus(id, []types.MessageStatus{types.StatusQueued, types.StatusProcessing}, types.StatusFailed); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].ErrorSummary = &summary
	return nil
}

func (f *fakeMessageStore) SoftDelete(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.byID[id]
	if !ok {
		return false, postgres.ErrNotFound
	}
	if msg.Status == types.StatusDeleted {
		return false, nil
	}
	msg.Status = types.StatusDeleted
	msg.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeMessageStore) ListByThread(_ context.Context, threadID uuid.UUID, limit int) ([]types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var msgs []types.Message
	for _, m := range f.byID {
		if m.ThreadID == threadID {
			msgs = append(msgs, *m)
		}
	}
	// Most recent first, seq breaks ties.
	for i := 0; i < len(msgs); i++ {
		for j := i + 1; j < len(msgs); j++ {
			if msgs[j].Seq > msgs[i].Seq {
				msgs[i], msgs[j] = msgs[j], msgs[i]
			}
		}
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

type allowAllMembers struct{}

func (allowAllMembers) IsMember(context.Context, uuid.UUID, string) (bool, error) {
	return true, nil
}

type denyAllMembers struct{}

func (denyAllMembers) IsMember(context.Context, uuid.UUID, string) (bool, error) {
	return false, nil
}

type fakeMeter struct {
	mu      sync.Mutex
	charged map[uuid.UUID]int
}

func newFakeMeter() *fakeMeter {
	return &fakeMeter{charged: make(map[uuid.UUID]int)}
}

func (f *fakeMeter) Breakdown(userText, assistantText string) *types.CostBreakdown {
	return &types.CostBreakdown{TotalCost: 1}
}

func (f *fakeMeter) Charge(_ context.Context, _ string, assistantMsgID uuid.UUID, _ *types.CostBreakdown) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charged[assistantMsgID]++
	return nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *capturingPublisher) Publish(_ uuid.UUID, ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturingPublisher) last() realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func newTestService(store *fakeMessageStore, meter *fakeMeter) *Service {
	return NewService(store, allowAllMembers{}, meter, realtime.NopPublisher{}, testLogger())
}

func TestSubmitIdempotent(t *testing.T) {
	store := newFakeMessageStore()
	svc := newTestService(store, newFakeMeter())
	threadID := uuid.New()

	in := SubmitInput{
		ThreadID:    threadID,
		UserID:      "user-1",
		Content:     "Hello there",
		ClientMsgID: "abc",
	}

	first, err := svc.Submit(context.Background(), in)
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "retried submit returns the same message id")
	assert.Len(t, store.byID, 1, "exactly one stored row")
	assert.Equal(t, types.StatusQueued, first.Status)
}

func TestSubmitConcurrentSameKey(t *testing.T) {
	store := newFakeMessageStore()
	svc := newTestService(store, newFakeMeter())
	threadID := uuid.New()

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := svc.Submit(context.Background(), SubmitInput{
				ThreadID:    threadID,
				UserID:      "user-1",
				Content:     "Hello there",
				ClientMsgID: "abc",
			})
			assert.NoError(t, err)
			ids <- msg.ID
		}()
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		assert.Equal(t, first, id)
	}
	assert.Len(t, store.byID, 1)
}

func TestSubmitValidation(t *testing.T) {
	svc := newTestService(newFakeMessageStore(), newFakeMeter())

	cases := []struct {
		name string
		in   SubmitInput
	}{
		{"missing thread", SubmitInput{UserID: "u", Content: "hi", ClientMsgID: "k"}},
		{"missing content", SubmitInput{ThreadID: uuid.New(), UserID: "u", ClientMsgID: "k"}},
		{"missing client_msg_id", SubmitInput{ThreadID: uuid.New(), UserID: "u", Content: "hi"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tc.in)
			assert.Error(t, err)
		})
	}
}

func TestSubmitRejectsNonMember(t *testing.T) {
	svc := NewService(newFakeMessageStore(), denyAllMembers{}, newFakeMeter(), realtime.NopPublisher{}, testLogger())

	_, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID:    uuid.New(),
		UserID:      "stranger",
		Content:     "hi",
		ClientMsgID: "k",
	})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestCompleteAssistantChargesOnce(t *testing.T) {
	store := newFakeMessageStore()
	meter := newFakeMeter()
	svc := newTestService(store, meter)
	threadID := uuid.New()
	roleID := uuid.New()

	userMsg, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID:    threadID,
		UserID:      "user-1",
		Content:     "Hello there",
		ClientMsgID: "abc",
	})
	require.NoError(t, err)

	in := CompleteInput{
		ThreadID:        threadID,
		UserClientMsgID: "abc",
		RoleInstanceID:  roleID,
		Content:         "assistant reply",
		Usage:           types.Usage{InputTokens: 5, OutputTokens: 9},
		Model:           "test-model",
	}

	first, err := svc.CompleteAssistant(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, first.Status)
	assert.Equal(t, types.RoleAssistant, first.Role)
	require.NotNil(t, first.Meta)
	assert.Equal(t, userMsg.ID, *first.Meta.ReplyTo)
	assert.NotNil(t, first.CompletedAt)

	// Webhook retry lands on the same row, single charge.
	second, err := svc.CompleteAssistant(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, meter.charged[first.ID], "charge is invoked per call; the ledger makes it idempotent")

	stored, err := store.GetByClientMsgID(context.Background(), threadID, "abc:"+roleID.String()+":assistant")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID, "derived compound idempotency key")

	user, err := store.GetByID(context.Background(), userMsg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, user.Status, "originating user message is closed out")
}

func TestCompleteAssistantPrefersProviderResponseID(t *testing.T) {
	store := newFakeMessageStore()
	svc := newTestService(store, newFakeMeter())
	threadID := uuid.New()

	_, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID:    threadID,
		UserID:      "user-1",
		Content:     "Hello",
		ClientMsgID: "abc",
	})
	require.NoError(t, err)

	msg, err := svc.CompleteAssistant(context.Background(), CompleteInput{
		ThreadID:           threadID,
		UserClientMsgID:    "abc",
		RoleInstanceID:     uuid.New(),
		ProviderResponseID: "resp_123",
		Content:            "reply",
	})
	require.NoError(t, err)
	assert.Equal(t, "resp_123", msg.ClientMsgID)
}

func TestCompleteAssistantUnknownUserMessage(t *testing.T) {
	svc := newTestService(newFakeMessageStore(), newFakeMeter())

	_, err := svc.CompleteAssistant(context.Background(), CompleteInput{
		ThreadID:        uuid.New(),
		UserClientMsgID: "missing",
		RoleInstanceID:  uuid.New(),
		Content:         "reply",
	})
	assert.ErrorIs(t, err, postgres.ErrNotFound)
}

func TestMultipleRoleInstancesCompleteSeparately(t *testing.T) {
	store := newFakeMessageStore()
	svc := newTestService(store, newFakeMeter())
	threadID := uuid.New()

	_, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID:    threadID,
		UserID:      "user-1",
		Content:     "question for the group",
		ClientMsgID: "abc",
	})
	require.NoError(t, err)

	roleA, roleB := uuid.New(), uuid.New()
	a, err := svc.CompleteAssistant(context.Background(), CompleteInput{
		ThreadID: threadID, UserClientMsgID: "abc", RoleInstanceID: roleA, Content: "answer A",
	})
	require.NoError(t, err)
	b, err := svc.CompleteAssistant(context.Background(), CompleteInput{
		ThreadID: threadID, UserClientMsgID: "abc", RoleInstanceID: roleB, Content: "answer B",
	})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID, "each role instance completes against its own row")
}

func TestSoftDeleteIdempotent(t *testing.T) {
	store := newFakeMessageStore()
	svc := newTestService(store, newFakeMeter())
	threadID := uuid.New()

	msg, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID:    threadID,
		UserID:      "user-1",
		Content:     "to be removed",
		ClientMsgID: "abc",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), msg.ID))
	require.NoError(t, svc.Delete(context.Background(), msg.ID), "double delete succeeds")

	stored, err := store.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeleted, stored.Status)
	assert.Equal(t, "to be removed", stored.Content, "content retained for audit")
}

func TestMarkProcessingPublishesTransition(t *testing.T) {
	store := newFakeMessageStore()
	pub := &capturingPublisher{}
	svc := NewService(store, allowAllMembers{}, newFakeMeter(), pub, testLogger())
	threadID := uuid.New()

	msg, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID:    threadID,
		UserID:      "user-1",
		Content:     "claim me",
		ClientMsgID: "abc",
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkProcessing(context.Background(), msg.ID))

	ev := pub.last()
	assert.Equal(t, realtime.EventMessageUpdated, ev.Type, "room participants must see the claim")
	require.NotNil(t, ev.Message)
	assert.Equal(t, msg.ID, ev.Message.ID)
	assert.Equal(t, types.StatusProcessing, ev.Message.Status)

	// A second claim loses the guarded transition.
	err = svc.MarkProcessing(context.Background(), msg.ID)
	require.NoError(t, err, "re-claiming a processing message is an idempotent no-op")

	require.NoError(t, store.Complete(context.Background(), msg.ID, "done", nil))
	err = svc.MarkProcessing(context.Background(), msg.ID)
	assert.ErrorIs(t, err, postgres.ErrInvalidTransition, "completed messages are not claimable")
}

func TestFailRecordsSummary(t *testing.T) {
	store := newFakeMessageStore()
	svc := newTestService(store, newFakeMeter())
	threadID := uuid.New()

	msg, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID:    threadID,
		UserID:      "user-1",
		Content:     "doomed",
		ClientMsgID: "abc",
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkProcessing(context.Background(), msg.ID))
	require.NoError(t, svc.Fail(context.Background(), msg.ID, "provider timeout"))

	stored, err := store.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorSummary)
	assert.Equal(t, "provider timeout", *stored.ErrorSummary)
}

func TestListOrdering(t *testing.T) {
	store := newFakeMessageStore()
	svc := newTestService(store, newFakeMeter())
	threadID := uuid.New()

	a, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID: threadID, UserID: "u", Content: "first", ClientMsgID: "a",
	})
	require.NoError(t, err)
	b, err := svc.Submit(context.Background(), SubmitInput{
		ThreadID: threadID, UserID: "u", Content: "second", ClientMsgID: "b",
	})
	require.NoError(t, err)

	msgs, err := svc.List(context.Background(), threadID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, b.ID, msgs[0].ID, "most recent first")
	assert.Equal(t, a.ID, msgs[1].ID)
}
