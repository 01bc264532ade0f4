// Package websocket implements the WebSocket protocol defined in RFC 6455
// for both the client and the server role.
//
// Use Dial to dial a WebSocket server and Accept to accept a WebSocket
// client. NewConn wraps a transport whose handshake was completed elsewhere.
//
// Conn exposes the message level protocol: Read returns whole data
// messages while ping, pong and close frames are handled internally.
// Write splits large messages into frames of at most 65536 bytes.
// Close performs the close handshake.
//
// Serve and Server run a read loop per connection and hand every
// message to a Handler.
//
// See https://tools.ietf.org/html/rfc6455
package websocket
