package protocol

// RPC method names used on Gateway Dispatch's outbound connection to the
// external chat gateway: a connect handshake followed by chat send/history
// calls. Grounded on original_source/backend/app/openclaw_gateway.py's
// gateway_rpc, which sends "connect" after the connect.challenge event and
// then one domain method per call.
const (
	MethodConnect     = "connect"
	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
	MethodHealth      = "health"
)
