// Package transport provides the ordered, frame-preserving duplex channels the
// client talks over.
//
// Every channel delivers inbound messages in arrival order on Receive and
// reports asynchronous receive failures on Err. Send is a synchronous local
// write: it returns once the message is handed to the connection.
//
// Implementations:
//   - StreamChannel: multipart frames over any net.Conn (TCP, TLS, net.Pipe)
//   - WebSocketChannel: one multipart message per binary websocket message
package transport
