package event_test

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/medleyhq/medley/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Dispatch_DeliversToRegisteredFunction(t *testing.T) {
	t.Parallel()

	bus := event.New()
	payload := uuid.New()

	var received []event.HandlerEvent
	bus.RegisterHandlerFunction(event.FILE_INGESTED, func(ev event.Event, p event.Payload) {
		received = append(received, event.HandlerEvent{Event: ev, Payload: p})
	})

	bus.Dispatch(event.FILE_INGESTED, payload)

	require.Len(t, received, 1)
	assert.Equal(t, event.FILE_INGESTED, received[0].Event)
	assert.Equal(t, payload, received[0].Payload)
}

func Test_Dispatch_DoesNotDeliverToOtherEvents(t *testing.T) {
	t.Parallel()

	bus := event.New()

	called := false
	bus.RegisterHandlerFunction(event.FILE_REMOVED, func(event.Event, event.Payload) {
		called = true
	})

	bus.Dispatch(event.FILE_INGESTED, uuid.New())
	assert.False(t, called)
}

func Test_Dispatch_DeliversToChannelHandlers(t *testing.T) {
	t.Parallel()

	bus := event.New()
	channel := make(event.HandlerChannel, 4)
	bus.RegisterHandlerChannel(channel, event.FILE_INGESTED, event.FILE_REMOVED)

	first := uuid.New()
	second := uuid.New()
	bus.Dispatch(event.FILE_INGESTED, first)
	bus.Dispatch(event.FILE_REMOVED, second)

	assert.Equal(t, event.HandlerEvent{Event: event.FILE_INGESTED, Payload: first}, <-channel)
	assert.Equal(t, event.HandlerEvent{Event: event.FILE_REMOVED, Payload: second}, <-channel)
}

func Test_Dispatch_AsyncHandlerRunsOffTheDispatchingGoroutine(t *testing.T) {
	t.Parallel()

	bus := event.New()

	var wg sync.WaitGroup
	wg.Add(1)
	bus.RegisterAsyncHandlerFunction(event.FILE_INGESTED, func(event.Event, event.Payload) {
		wg.Done()
	})

	bus.Dispatch(event.FILE_INGESTED, uuid.New())
	wg.Wait()
}
