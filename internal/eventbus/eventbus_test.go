package eventbus

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var n int32
	for i := 0; i < 3; i++ {
		b.Subscribe(BuildSuccess, func(Event) { atomic.AddInt32(&n, 1) })
	}
	b.Emit(BuildSuccess, nil)
	assert.EqualValues(t, 3, n)
}

func TestEmitPassesDataThrough(t *testing.T) {
	b := New()
	var got interface{}
	b.Subscribe(FileChanged, func(ev Event) { got = ev.Data })
	b.Emit(FileChanged, "routes/hello.get.go")
	assert.Equal(t, "routes/hello.get.go", got)
}

func TestEmitRecoversSubscriberPanics(t *testing.T) {
	b := New()
	var reportedName Name
	b.OnError = func(name Name, recovered interface{}) { reportedName = name }

	b.Subscribe(WatcherError, func(Event) { panic("fail") })
	assert.NotPanics(t, func() { b.Emit(WatcherError, nil) })
	assert.Equal(t, WatcherError, reportedName)
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.SubscriberCount(ServerStarted))
	b.Subscribe(ServerStarted, func(Event) {})
	assert.Equal(t, 1, b.SubscriberCount(ServerStarted))
}
