// In-process event bus used to decouple the file lifecycle service from the
// parts of the system that react to ingestion activity (activity logging now,
// notification surfaces later).
package event

import (
	"sync"

	"github.com/medleyhq/medley/pkg/logger"
)

var log = logger.Get("Event")

type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		sync.Mutex
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

const (
	FILE_INGESTED Event = "file:ingested"
	FILE_REMOVED  Event = "file:removed"
)

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel sends a HandlerEvent message on the provided channel
// each time one of the given events is dispatched. A blocked channel blocks
// the dispatching goroutine, so handler channels should be buffered.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	handler.Lock()
	defer handler.Unlock()

	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction registers a function to be called synchronously
// (in the dispatching goroutine) when the given event is dispatched.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle: handle, async: false})
}

// RegisterAsyncHandlerFunction registers a function which is called in its
// own goroutine when the given event is dispatched.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle: handle, async: true})
}

func (handler *eventHandler) registerHandlerMethod(event Event, method handlerMethod) {
	handler.Lock()
	defer handler.Unlock()

	handler.fnHandlers[event] = append(handler.fnHandlers[event], method)
}

// Dispatch delivers the payload to every handler registered for the event.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	handler.Lock()
	fnHandlers := append([]handlerMethod(nil), handler.fnHandlers[event]...)
	chanHandlers := append([]HandlerChannel(nil), handler.chanHandlers[event]...)
	handler.Unlock()

	log.Verbosef("Dispatching event '%s' to %d handler(s)\n", event, len(fnHandlers)+len(chanHandlers))

	for _, method := range fnHandlers {
		if method.async {
			go method.handle(event, payload)
			continue
		}

		method.handle(event, payload)
	}

	for _, channel := range chanHandlers {
		channel <- HandlerEvent{Event: event, Payload: payload}
	}
}
