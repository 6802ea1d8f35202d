package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes/pkg/errors"
)

// fakeTransport records sends and closes for registry assertions.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []WireMessage
	closed  int
	sendErr error
}

func (f *fakeTransport) Send(msg WireMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) Kind() string { return "fake" }

func (f *fakeTransport) messages() []WireMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WireMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistry_BindAndSend(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, "instance-1")
	tr := &fakeTransport{}

	connID := reg.Bind(ctx, tr, "s1", "u1")
	require.NotEmpty(t, connID)
	assert.Equal(t, 1, reg.Count())

	ok := reg.Send(ctx, "s1", NewWireMessage(TypeAgentResponse, "hi", "s1"))
	assert.True(t, ok)
	require.Len(t, tr.messages(), 1)
	assert.Equal(t, "hi", tr.messages()[0].Content)
}

func TestRegistry_SendToUnboundSession(t *testing.T) {
	reg := NewRegistry(nil, "instance-1")

	ok := reg.Send(context.Background(), "nope", NewWireMessage(TypeAgentResponse, "hi", "nope"))
	assert.False(t, ok)
}

func TestRegistry_BindSupersedesAndClosesOld(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, "instance-1")

	oldTr := &fakeTransport{}
	newTr := &fakeTransport{}

	oldID := reg.Bind(ctx, oldTr, "s1", "u1")
	newID := reg.Bind(ctx, newTr, "s1", "u1")

	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, 1, reg.Count(), "one binding per session")
	assert.Equal(t, 1, oldTr.closeCount(), "superseded transport must be closed")

	owner, bound := reg.Owner("s1")
	require.True(t, bound)
	assert.Equal(t, newID, owner)

	reg.Send(ctx, "s1", NewWireMessage(TypeAgentResponse, "hi", "s1"))
	assert.Empty(t, oldTr.messages())
	assert.Len(t, newTr.messages(), 1)
}

func TestRegistry_StaleUnbindIgnored(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, "instance-1")

	oldTr := &fakeTransport{}
	newTr := &fakeTransport{}

	oldID := reg.Bind(ctx, oldTr, "s1", "u1")
	reg.Bind(ctx, newTr, "s1", "u1")

	// The superseded transport's disconnect arrives late; it must not
	// evict the current binding.
	reg.Unbind(ctx, oldID, "s1")

	assert.Equal(t, 1, reg.Count())
	ok := reg.Send(ctx, "s1", NewWireMessage(TypeAgentResponse, "still here", "s1"))
	assert.True(t, ok)
	assert.Len(t, newTr.messages(), 1)
}

func TestRegistry_Unbind(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, "instance-1")
	tr := &fakeTransport{}

	connID := reg.Bind(ctx, tr, "s1", "u1")
	reg.Unbind(ctx, connID, "s1")

	assert.Equal(t, 0, reg.Count())
	_, bound := reg.Owner("s1")
	assert.False(t, bound)
	assert.False(t, reg.Send(ctx, "s1", NewWireMessage(TypeAgentResponse, "hi", "s1")))
}

func TestRegistry_DeadTransportUnboundOnSendFailure(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, "instance-1")
	tr := &fakeTransport{sendErr: errors.ErrTransportClosed}

	reg.Bind(ctx, tr, "s1", "u1")

	ok := reg.Send(ctx, "s1", NewWireMessage(TypeAgentResponse, "hi", "s1"))
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Count(), "failed transport must be unbound")
	assert.GreaterOrEqual(t, tr.closeCount(), 1)
}

func TestRegistry_IndependentSessions(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, "instance-1")

	tr1 := &fakeTransport{}
	tr2 := &fakeTransport{}
	reg.Bind(ctx, tr1, "s1", "u1")
	reg.Bind(ctx, tr2, "s2", "u2")

	assert.Equal(t, 2, reg.Count())
	reg.Send(ctx, "s1", NewWireMessage(TypeAgentResponse, "for s1", "s1"))
	assert.Len(t, tr1.messages(), 1)
	assert.Empty(t, tr2.messages())
}

func TestRegistry_Shutdown(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil, "instance-1")

	tr1 := &fakeTransport{}
	tr2 := &fakeTransport{}
	reg.Bind(ctx, tr1, "s1", "u1")
	reg.Bind(ctx, tr2, "s2", "u2")

	reg.Shutdown(ctx)

	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 1, tr1.closeCount())
	assert.Equal(t, 1, tr2.closeCount())
}
