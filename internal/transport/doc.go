// Package transport carries camera protocol records between a frontend
// and the backend over unix or tcp stream sockets.
//
// Every message is framed as a two-byte big-endian size (covering the
// type and payload), a two-byte message type and the payload. A
// connection starts with MsgOpen naming the camera and the controls the
// frontend may see; the backend answers MsgOpenAck with a status. After
// that the frontend sends MsgRequest records and receives MsgResponse
// records in order, while MsgEvent records arrive asynchronously.
//
// This stands in for the shared-memory ring transport of a hypervisor
// toolstack; the records it carries are the same.
package transport
