package meshcore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Frame markers.
const (
	markerOutbound byte = 0x3c // '<' host to radio
	markerInbound  byte = 0x3e // '>' radio to host
)

// MaxFrameSize is the largest payload accepted from the radio.
const MaxFrameSize = 4096

// Command codes.
const (
	CmdAppStart          byte = 0x01
	CmdSendTxtMsg        byte = 0x02
	CmdSendChannelTxtMsg byte = 0x03
	CmdGetContacts       byte = 0x04
	CmdSendSelfAdvert    byte = 0x07
	CmdSyncNextMessage   byte = 0x0a
	CmdDeviceQuery       byte = 0x16
)

// Response codes.
const (
	RespOk             byte = 0x00
	RespErr            byte = 0x01
	RespContactsStart  byte = 0x02
	RespContact        byte = 0x03
	RespEndOfContacts  byte = 0x04
	RespSelfInfo       byte = 0x05
	RespSent           byte = 0x06
	RespContactMsgRecv byte = 0x07
	RespChannelMsgRecv byte = 0x08
	RespNoMoreMessages byte = 0x0a
	RespDeviceInfo     byte = 0x0d
)

// Push codes are unsolicited and always have the high bit set.
const (
	PushAdvert        byte = 0x80
	PushPathUpdated   byte = 0x81
	PushSendConfirmed byte = 0x82
	PushMsgWaiting    byte = 0x83
)

// Text types.
const (
	TxtTypePlain byte = 0
)

// publicChannel is the channel index used for broadcasts.
const publicChannel byte = 0

// WriteFrame writes payload to w as one host-to-radio frame.
func WriteFrame(w io.Writer, payload []byte) error {
	return writeFrame(w, markerOutbound, payload)
}

// ReadFrame reads one radio-to-host frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, markerInbound)
}

func writeFrame(w io.Writer, marker byte, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, 3+len(payload))
	frame[0] = marker
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[3:], payload)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader, marker byte) ([]byte, error) {
	var head [3]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	if head[0] != marker {
		return nil, fmt.Errorf("%w: unexpected marker 0x%02x", ErrBadFrame, head[0])
	}
	size := binary.LittleEndian.Uint16(head[1:3])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// appStartCommand announces the host application. The radio answers with
// SELF_INFO.
func appStartCommand(appName string) []byte {
	buf := make([]byte, 0, 8+len(appName))
	buf = append(buf, CmdAppStart, 0x01)
	buf = append(buf, 0, 0, 0, 0, 0, 0)
	return append(buf, appName...)
}

func sendTextCommand(ts time.Time, keyPrefix []byte, text string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(CmdSendTxtMsg)
	buf.WriteByte(TxtTypePlain)
	buf.WriteByte(0) // attempt
	_ = binary.Write(&buf, binary.LittleEndian, uint32(ts.Unix()))
	buf.Write(keyPrefix[:6])
	buf.WriteString(text)
	return buf.Bytes()
}

func sendChannelTextCommand(ts time.Time, channel byte, text string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(CmdSendChannelTxtMsg)
	buf.WriteByte(TxtTypePlain)
	buf.WriteByte(channel)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(ts.Unix()))
	buf.WriteString(text)
	return buf.Bytes()
}

// selfInfo is the identity block of a SELF_INFO response.
type selfInfo struct {
	PublicKey string
	Name      string
}

// SELF_INFO layout: code, tx power, max tx power, 32-byte public key,
// location, radio settings, then a NUL-terminated name from offset 57.
const selfInfoNameOffset = 57

func parseSelfInfo(frame []byte) (selfInfo, error) {
	if len(frame) < 35 || frame[0] != RespSelfInfo {
		return selfInfo{}, fmt.Errorf("%w: self info of %d bytes", ErrBadFrame, len(frame))
	}
	info := selfInfo{PublicKey: hex.EncodeToString(frame[3:35])}
	if len(frame) > selfInfoNameOffset {
		info.Name = cString(frame[selfInfoNameOffset:])
	}
	return info, nil
}

// contactRecord is the fixed binary layout of a CONTACT response body.
type contactRecord struct {
	PublicKey  [32]byte
	Type       uint8
	Flags      uint8
	OutPathLen int8
	OutPath    [64]byte
	AdvName    [32]byte
	LastAdvert uint32
	Lat        int32
	Lon        int32
	LastMod    uint32
}

type contact struct {
	PublicKey  string
	Name       string
	LastAdvert time.Time
}

func parseContact(frame []byte) (contact, error) {
	if len(frame) < 1 || frame[0] != RespContact {
		return contact{}, fmt.Errorf("%w: not a contact frame", ErrBadFrame)
	}
	var rec contactRecord
	if err := binary.Read(bytes.NewReader(frame[1:]), binary.LittleEndian, &rec); err != nil {
		return contact{}, fmt.Errorf("%w: contact: %w", ErrBadFrame, err)
	}
	c := contact{
		PublicKey:  hex.EncodeToString(rec.PublicKey[:]),
		Name:       cString(rec.AdvName[:]),
		LastAdvert: time.Unix(int64(rec.LastAdvert), 0).UTC(),
	}
	return c, nil
}

// inboundText is a received text message from either a contact or a channel.
type inboundText struct {
	Channel   bool
	KeyPrefix string // hex, contact messages only
	ChannelID int8   // channel messages only
	PathLen   uint8
	TxtType   uint8
	SentAt    time.Time
	Text      string
}

// CONTACT_MSG_RECV: code, 6-byte key prefix, path len, txt type, uint32 ts, text.
// CHANNEL_MSG_RECV: code, int8 channel, path len, txt type, uint32 ts, text.
func parseInboundText(frame []byte) (inboundText, error) {
	if len(frame) == 0 {
		return inboundText{}, fmt.Errorf("%w: empty message frame", ErrBadFrame)
	}

	switch frame[0] {
	case RespContactMsgRecv:
		if len(frame) < 13 {
			return inboundText{}, fmt.Errorf("%w: contact message of %d bytes", ErrBadFrame, len(frame))
		}
		return inboundText{
			KeyPrefix: hex.EncodeToString(frame[1:7]),
			PathLen:   frame[7],
			TxtType:   frame[8],
			SentAt:    time.Unix(int64(binary.LittleEndian.Uint32(frame[9:13])), 0).UTC(),
			Text:      string(frame[13:]),
		}, nil
	case RespChannelMsgRecv:
		if len(frame) < 8 {
			return inboundText{}, fmt.Errorf("%w: channel message of %d bytes", ErrBadFrame, len(frame))
		}
		return inboundText{
			Channel:   true,
			ChannelID: int8(frame[1]),
			PathLen:   frame[2],
			TxtType:   frame[3],
			SentAt:    time.Unix(int64(binary.LittleEndian.Uint32(frame[4:8])), 0).UTC(),
			Text:      string(frame[8:]),
		}, nil
	default:
		return inboundText{}, fmt.Errorf("%w: code 0x%02x is not a message", ErrBadFrame, frame[0])
	}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
