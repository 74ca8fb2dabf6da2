// Package meshcore speaks the MeshCore companion radio protocol over a
// serial line or a TCP companion link, and exposes the radio as a
// relay.Device.
//
// Frames are a one-byte direction marker, a little-endian uint16 length and
// the payload. The host sends frames marked '<' (0x3c) and the radio replies
// with frames marked '>' (0x3e). The first payload byte is a command,
// response or push code.
//
// Only the commands the relay needs are implemented: app start (identity),
// contact listing, direct and channel text send, and message sync. Message
// sync runs on a background loop triggered by the radio's "messages
// waiting" push and by a periodic safety poll.
package meshcore
