// Package events carries committed-state notifications out of the engine.
// The engine never assumes a transport; callers hand it an Emitter and
// fan out however they like (IPC push, AMQP, test capture).
package events

// Event names emitted by the engine. Payloads are small JSON-friendly
// maps or structs describing only committed state.
const (
	ChatCreated      = "chat.created"
	ChatUpdated      = "chat.updated"
	ChatDeleted      = "chat.deleted"
	MessageCreated   = "message.created"
	MessageCompleted = "message.completed"
	MessageFailed    = "message.failed"
	MessageStopped   = "message.stopped"
)

type Emitter func(topic string, payload any)

// Nop is the default emitter.
func Nop(string, any) {}

// Tee fans one event out to several emitters.
func Tee(emitters ...Emitter) Emitter {
	return func(topic string, payload any) {
		for _, e := range emitters {
			if e != nil {
				e(topic, payload)
			}
		}
	}
}
