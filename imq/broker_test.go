package imq

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsInOrder(t *testing.T) {
	l := NewLoop(nil)
	defer l.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, time.Second, 5*time.Millisecond)

	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_RecoversPanic(t *testing.T) {
	recovered := make(chan interface{}, 1)
	l := NewLoop(func(rec interface{}) { recovered <- rec })
	defer l.Close()

	ran := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(ran) })

	select {
	case rec := <-recovered:
		assert.Equal(t, "boom", rec)
	case <-time.After(time.Second):
		t.Fatal("panic was not recovered")
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestLoop_Close(t *testing.T) {
	l := NewLoop(nil)
	l.Close()
	l.Close()

	assert.True(t, l.Closed())
	assert.False(t, l.Post(func() {}))

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop goroutine did not exit")
	}
}

func TestBroker_Attach(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	ep, err := b.Attach("a", RoleContext)
	require.NoError(t, err)
	assert.Equal(t, Address("a"), ep.Address())
	assert.Equal(t, RoleContext, ep.Role())

	_, err = b.Attach("a", RoleControl)
	assert.Equal(t, ErrAddressInUse, errors.Cause(err))

	_, err = b.Attach("b", RoleControl)
	require.NoError(t, err)
	assert.Equal(t, []Address{"a", "b"}, b.Addresses())

	found, ok := b.Lookup("a")
	require.True(t, ok)
	assert.Same(t, ep, found)
}

func TestEndpoint_SendDeliversInOrder(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	sender, err := b.Attach("sender", RoleControl)
	require.NoError(t, err)
	receiver, err := b.Attach("receiver", RoleContext)
	require.NoError(t, err)

	got := make(chan *Message, 10)
	receiver.On(ChanUpdate, func(msg *Message) { got <- msg })

	for i := 0; i < 5; i++ {
		require.NoError(t, sender.Send("receiver", ChanUpdate, "w1", i))
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-got:
			assert.Equal(t, i, msg.Payload)
			assert.Equal(t, Address("sender"), msg.From)
			assert.Equal(t, "w1", msg.WorkerID)
		case <-time.After(time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
}

func TestEndpoint_LastHandlerWins(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	ep, err := b.Attach("ep", RoleContext)
	require.NoError(t, err)

	got := make(chan string, 2)
	ep.On(ChanEnd, func(*Message) { got <- "first" })
	ep.On(ChanEnd, func(*Message) { got <- "second" })
	require.NoError(t, b.Deliver(&Message{To: "ep", Channel: ChanEnd}))

	select {
	case v := <-got:
		assert.Equal(t, "second", v)
	case <-time.After(time.Second):
		t.Fatal("not delivered")
	}

	ep.Off(ChanEnd)
	done := make(chan struct{})
	require.NoError(t, b.Deliver(&Message{To: "ep", Channel: ChanEnd}))
	ep.Do(func() { close(done) })
	<-done
	assert.Empty(t, got)
}

func TestBroker_NoRoute(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	ep, err := b.Attach("ep", RoleContext)
	require.NoError(t, err)

	err = ep.Send("missing", ChanUpdate, "", nil)
	assert.Equal(t, ErrNoRoute, errors.Cause(err))

	ep.Close()
	assert.True(t, ep.Closed())
	_, ok := b.Lookup("ep")
	assert.False(t, ok)
	assert.Equal(t, ErrNoRoute, errors.Cause(b.Deliver(&Message{To: "ep"})))
	assert.False(t, ep.Do(func() {}))
}
