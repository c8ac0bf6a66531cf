// Package audit defines the structured security-event model for the
// user-service and the sinks that receive it.
//
// Events are emitted by the auth engine for every authentication decision
// (login, refresh, logout, reuse detection) and carry the internal failure
// kind that is deliberately withheld from HTTP responses. Delivery is
// asynchronous through [Dispatcher]; a slow sink never blocks a request
// unless the dispatcher is configured to apply backpressure.
package audit
