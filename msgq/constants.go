package msgq

// Routing header key names. These spellings are an external contract
// with client libraries; they are defined once here and reused rather
// than scattered as string literals through the package.
const (
	KeyType       = "type"
	KeyGroup      = "group"
	KeyInstance   = "instance"
	KeyTo         = "to"
	KeyFrom       = "from"
	KeySeq        = "seq"
	KeyReply      = "reply"
	KeyWantAnswer = "want_answer"
)

// Command type values carried in the "type" routing-header key.
const (
	CmdSend        = "send"
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdGetLName    = "getlname"
	CmdPing        = "ping"
	CmdPong        = "pong"
	CmdStop        = "stop"
)

// Wildcard sentinel values.
const (
	// WildcardInstance, used as the instance half of a subscription key,
	// means "any instance of this group".
	WildcardInstance = "*"
	// WildcardTo, used as the "to" routing-header value, means "dispatch
	// to every subscriber of (group, instance) rather than one lname".
	WildcardTo = "*"
)

// ReservedLName is the "from" the broker fills in on any reply it
// synthesizes itself. Clients must not assume this name is reachable as
// a destination.
const ReservedLName = "msgq"

// MembersGroup is the well-known notification group the control surface
// publishes connect/disconnect/subscribe/unsubscribe events to.
const MembersGroup = "cc_members"

// ConfigManagerGroup is the group the bootstrap peer (the configuration
// manager) subscribes to; the broker's control surface blocks startup
// until this subscription is observed (or the broker is told to stop
// first).
const ConfigManagerGroup = "ConfigManager"

// Membership event type values used in the cc_members notification
// payload's "event" field.
const (
	EventConnected     = "connected"
	EventDisconnected  = "disconnected"
	EventSubscribed    = "subscribed"
	EventUnsubscribed  = "unsubscribed"
)
