// Package eventbus fans training and prediction events out to collectors.
package eventbus

// Event represents an arbitrary event passed on the bus.
type Event interface{}

// EventBus is the publish/subscribe contract shared by producers and
// collectors.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus carries events of any type. Subscribers type-switch on what they
// receive.
type Bus struct {
	*TypedBus[Event]
}

// New creates a Bus with DefaultBuffer capacity per subscriber.
func New() *Bus { return &Bus{NewTyped[Event]()} }

// NewWithBuffer creates a Bus whose subscribers buffer n events.
func NewWithBuffer(n int) *Bus { return &Bus{NewTypedWithBuffer[Event](n)} }

var _ EventBus = (*Bus)(nil)
