package meshcore

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"
)

// MockCompanion answers companion protocol commands on one end of a pipe.
type MockCompanion struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	received [][]byte
	contacts []contactRecord
	queue    [][]byte
	pubKey   [32]byte
	name     string
	sendErr  byte
	silent   bool
}

// newMockCompanion returns a running companion and the host side of the pipe.
func newMockCompanion(t *testing.T) (*MockCompanion, net.Conn) {
	t.Helper()
	host, radio := net.Pipe()
	m := &MockCompanion{conn: radio, name: "base"}
	for i := range m.pubKey {
		m.pubKey[i] = byte(0xa0 + i)
	}
	go m.serve()
	t.Cleanup(func() {
		_ = radio.Close()
		_ = host.Close()
	})
	return m, host
}

func (m *MockCompanion) serve() {
	for {
		frame, err := readFrame(m.conn, markerOutbound)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.received = append(m.received, frame)
		m.mu.Unlock()
		m.reply(frame)
	}
}

func (m *MockCompanion) reply(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch frame[0] {
	case CmdAppStart:
		if !m.silent {
			m.send(selfInfoFrame(m.pubKey, m.name))
		}
	case CmdGetContacts:
		start := make([]byte, 5)
		start[0] = RespContactsStart
		binary.LittleEndian.PutUint32(start[1:], uint32(len(m.contacts)))
		m.send(start)
		for _, rec := range m.contacts {
			m.send(contactFrame(rec))
		}
		m.send([]byte{RespEndOfContacts})
	case CmdSendTxtMsg:
		if m.sendErr != 0 {
			m.send([]byte{RespErr, m.sendErr})
			return
		}
		m.send([]byte{RespSent, 0, 1, 0, 0, 0, 0x10, 0x27, 0, 0})
	case CmdSendChannelTxtMsg:
		m.send([]byte{RespOk})
	case CmdSyncNextMessage:
		if len(m.queue) == 0 {
			m.send([]byte{RespNoMoreMessages})
			return
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.send(next)
	}
}

// Push writes an unsolicited frame to the host.
func (m *MockCompanion) Push(frame []byte) {
	m.send(frame)
}

// Enqueue adds a message frame for the next sync.
func (m *MockCompanion) Enqueue(frame []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, frame)
	m.mu.Unlock()
}

func (m *MockCompanion) AddContact(name string, key [32]byte) {
	var rec contactRecord
	rec.PublicKey = key
	copy(rec.AdvName[:], name)
	rec.LastAdvert = 1700000000
	m.mu.Lock()
	m.contacts = append(m.contacts, rec)
	m.mu.Unlock()
}

func (m *MockCompanion) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.received...)
}

// ReceivedCode returns received frames starting with code.
func (m *MockCompanion) ReceivedCode(code byte) [][]byte {
	var out [][]byte
	for _, f := range m.Received() {
		if f[0] == code {
			out = append(out, f)
		}
	}
	return out
}

func (m *MockCompanion) send(frame []byte) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = m.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = writeFrame(m.conn, markerInbound, frame)
}

func selfInfoFrame(key [32]byte, name string) []byte {
	frame := make([]byte, selfInfoNameOffset)
	frame[0] = RespSelfInfo
	frame[1] = 22
	frame[2] = 22
	copy(frame[3:35], key[:])
	frame = append(frame, name...)
	return append(frame, 0)
}

func contactFrame(rec contactRecord) []byte {
	var buf bytes.Buffer
	buf.WriteByte(RespContact)
	_ = binary.Write(&buf, binary.LittleEndian, rec)
	return buf.Bytes()
}

func contactMessageFrame(prefix []byte, pathLen byte, ts uint32, text string) []byte {
	frame := []byte{RespContactMsgRecv}
	frame = append(frame, prefix[:6]...)
	frame = append(frame, pathLen, TxtTypePlain)
	frame = binary.LittleEndian.AppendUint32(frame, ts)
	return append(frame, text...)
}

func channelMessageFrame(idx int8, ts uint32, text string) []byte {
	frame := []byte{RespChannelMsgRecv, byte(idx), 0xff, TxtTypePlain}
	frame = binary.LittleEndian.AppendUint32(frame, ts)
	return append(frame, text...)
}

func key(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func newTestClient(t *testing.T, host net.Conn) *Client {
	t.Helper()
	c, err := NewClient(host, ClientOptions{
		ResponseTimeout: 500 * time.Millisecond,
		FetchInterval:   time.Hour,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
