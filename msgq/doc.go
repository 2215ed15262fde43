// Package msgq implements the core of the bundy message-bus broker: the
// wire framing codec, the subscription table, the connection registry
// with its slow-consumer send discipline, the command dispatcher, and
// the I/O-multiplexing reactor that ties them together.
//
// A Broker accepts connections on a UNIX-domain stream socket, assigns
// each one a process-unique logical name (lname), and routes SEND
// commands to whatever connections have subscribed to the matching
// (group, instance) key. It also runs a second, lock-sharing goroutine
// that speaks the bus as an ordinary client in order to publish
// membership notifications on the cc_members group and answer
// administrative "members" queries.
//
// Package msgq is safe for concurrent use: every exported Broker method
// that touches shared state takes the broker's single mutex. Callers
// driving the reactor (cmd/msgqd) are expected to run Broker.Run in its
// own goroutine and call Broker.RequestStop (or send SIGTERM, which
// cmd/msgqd translates into a RequestStop call) to stop it.
package msgq
