// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby socket.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	InvalidLobbyIDError = 3003 // Lobby in the URL does not exist.
	LobbyClosedError    = 3004 // Lobby was torn down while the client was connected.
	SlowConsumerError   = 3005 // Client did not keep up with snapshots.
	NotMemberError      = 3006 // Caller is not, or no longer, on the roster.
)
