package kollab

// Envelope types sent by clients.
const (
	TypeJoin          = "join"
	TypeContentChange = "content_change"
	TypeCursorMove    = "cursor_move"
	TypeFileChange    = "file_change"
)

// Envelope types originated by the server.
const (
	TypeInit          = "init"
	TypeUsersList     = "users_list"
	TypeUserJoined    = "user_joined"
	TypeUserLeft      = "user_left"
	TypeCursorUpdate  = "cursor_update"
	TypeContentUpdate = "content_update"
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidHandshake = "invalid handshake"
	ErrProtocolError    = "protocol error"
	ErrMessageTooBig    = "message too big"
	ErrRateLimited      = "rate limit exceeded"

	// Connection errors
	ErrSessionNotFound      = "session not found"
	ErrConnectionClosed     = "session connection is closed"
	ErrServerAlreadyRunning = "server already running"
	ErrServerNotRunning     = "server not running"
)

// WebSocket close codes (RFC 6455 section 7.4.1)
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009
)

// Palette holds the display colors handed out to sessions in join order.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#FF69B4", "#20B2AA",
}
