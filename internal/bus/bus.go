// Package bus replaces the original CARMEN callback-registration style
// (carmen_*_subscribe_message taking a function pointer) with typed
// message variants dispatched over a channel, per spec.md section 9's
// redesign flag: "Callback-based dispatch -> typed message variants on a
// channel". State that callbacks used to close over implicitly (the
// current pose estimate, the active map, ...) is instead an explicit
// CoreState passed to every handler, so a handler's dependencies are
// visible in its signature rather than hidden in a closure. Channel
// plumbing follows the teacher's x/pipeline step idiom (buffered chan,
// a Run loop selecting on ctx.Done()); wire/IPC framing across process
// boundaries stays out of scope per spec.md's Non-goals.
package bus

import (
	"context"

	"github.com/itohio/navcore/internal/motion"
	"github.com/itohio/navcore/internal/navmsg"
	"github.com/itohio/navcore/pkg/logger"
)

// Kind identifies a message's variant so handlers can dispatch on it
// without a type switch on every delivery.
type Kind int

const (
	KindOdometry Kind = iota
	KindLaser
	KindTruePos
	KindGoal
	KindMapUpdate
)

// Message is the single typed envelope carried on the bus. Exactly one
// of the payload fields is populated, matching Kind.
type Message struct {
	Kind     Kind
	Odometry motion.Pose
	Laser    navmsg.RobotLaser
	TruePos  motion.Pose
	Goal     motion.Pose
	MapDelta navmsg.Map
}

// CoreState is the state handlers read and mutate, passed explicitly
// instead of being closed over.
type CoreState struct {
	Localizer  navmsg.LocalizeGlobalpos
	Status     navmsg.NavigatorStatus
	LastGoal   motion.Pose
	HaveGoal   bool
	LaserCount int
	PathIndex  int
}

// Handler reacts to one message, given the bus's current shared state.
// Handlers run sequentially on the bus's dispatch goroutine, so they may
// mutate state freely without additional locking.
type Handler func(ctx context.Context, state *CoreState, msg Message)

// Bus fans a single inbound channel of messages out to the handlers
// registered for each Kind.
type Bus struct {
	state    *CoreState
	handlers map[Kind][]Handler
	in       chan Message
}

// New creates a Bus with the given buffer depth for its inbound channel
// and an initial, explicit CoreState.
func New(bufferDepth int, state *CoreState) *Bus {
	return &Bus{
		state:    state,
		handlers: make(map[Kind][]Handler),
		in:       make(chan Message, bufferDepth),
	}
}

// On registers a handler for messages of the given kind. Handlers for
// the same kind run in registration order.
func (b *Bus) On(kind Kind, h Handler) {
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish enqueues msg for dispatch. It blocks if the inbound channel is
// full; callers needing non-blocking behavior should select on ctx.Done()
// around the call site.
func (b *Bus) Publish(ctx context.Context, msg Message) {
	select {
	case b.in <- msg:
	case <-ctx.Done():
	}
}

// Run drains the inbound channel, dispatching each message to its
// registered handlers, until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	logger.Log.Debug().Msg("bus: run")
	defer logger.Log.Debug().Msg("bus: exit")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.in:
			if !ok {
				return
			}
			for _, h := range b.handlers[msg.Kind] {
				h(ctx, b.state, msg)
			}
		}
	}
}

// State returns the bus's shared CoreState. Safe to call only from a
// Handler or after Run has returned; handlers share the dispatch
// goroutine so there is no concurrent access to guard against.
func (b *Bus) State() *CoreState {
	return b.state
}
