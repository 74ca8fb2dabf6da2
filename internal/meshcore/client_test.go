package meshcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/meshlink/internal/relay"
)

// nextEvent waits for one event from c.
func nextEvent(t *testing.T, c *Client) relay.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return relay.Event{}
}

func TestRequestSelfInfo(t *testing.T) {
	mock, host := newMockCompanion(t)
	c := newTestClient(t, host)

	if err := c.RequestSelfInfo(context.Background()); err != nil {
		t.Fatalf("RequestSelfInfo() error = %v", err)
	}
	ev := nextEvent(t, c)
	if ev.Kind != relay.EventSelfInfo {
		t.Fatalf("event kind = %v, want self_info", ev.Kind)
	}
	id, _ := ev.Attributes["node_id"].(string)
	if !strings.HasPrefix(id, "a0a1a2") || len(id) != 64 {
		t.Errorf("node_id = %q", id)
	}
	if ev.Attributes["name"] != "base" {
		t.Errorf("name = %v, want base", ev.Attributes["name"])
	}

	starts := mock.ReceivedCode(CmdAppStart)
	if len(starts) != 1 || !strings.HasSuffix(string(starts[0]), DefaultAppName) {
		t.Errorf("app start frames = %q", starts)
	}
}

func TestErrorEventsRequireSubscription(t *testing.T) {
	mock, host := newMockCompanion(t)
	c := newTestClient(t, host)

	mock.Push([]byte{RespErr, relay.CodeNotReady})
	if err := c.RequestSelfInfo(context.Background()); err != nil {
		t.Fatalf("RequestSelfInfo() error = %v", err)
	}
	if ev := nextEvent(t, c); ev.Kind != relay.EventSelfInfo {
		t.Fatalf("event before subscribe = %v, want self_info", ev.Kind)
	}

	sub, err := c.Subscribe(relay.EventError)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	mock.Push([]byte{RespErr, relay.CodeBufferFull})

	ev := nextEvent(t, c)
	if ev.Kind != relay.EventError || ev.Code != relay.CodeBufferFull {
		t.Errorf("event = %+v, want error code %d", ev, relay.CodeBufferFull)
	}

	if err := c.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	mock.Push([]byte{RespErr, relay.CodeTimeout})
	if err := c.RequestSelfInfo(context.Background()); err != nil {
		t.Fatalf("RequestSelfInfo() error = %v", err)
	}
	if ev := nextEvent(t, c); ev.Kind != relay.EventSelfInfo {
		t.Errorf("event after unsubscribe = %v, want self_info", ev.Kind)
	}
}

func TestSubscriptionIDsUnique(t *testing.T) {
	_, hostA := newMockCompanion(t)
	_, hostB := newMockCompanion(t)
	a := newTestClient(t, hostA)
	b := newTestClient(t, hostB)

	s1, _ := a.Subscribe(relay.EventError)
	s2, _ := b.Subscribe(relay.EventError)
	s3, _ := a.Subscribe(relay.EventDirectMessage)
	if s1.ID == s2.ID || s2.ID == s3.ID || s1.ID == s3.ID {
		t.Errorf("subscription IDs not unique: %d %d %d", s1.ID, s2.ID, s3.ID)
	}
}

func TestContactLookup(t *testing.T) {
	mock, host := newMockCompanion(t)
	mock.AddContact("alice", key(0x11))
	mock.AddContact("bob", key(0x22))
	c := newTestClient(t, host)
	ctx := context.Background()

	got, ok, err := c.ContactByName(ctx, "bob")
	if err != nil || !ok {
		t.Fatalf("ContactByName(bob) = %v, %v", ok, err)
	}
	if !strings.HasPrefix(got.PublicKey, "2222") {
		t.Errorf("bob key = %q", got.PublicKey)
	}

	got, ok, err = c.ContactByKeyPrefix(ctx, "1111AA")
	if err != nil {
		t.Fatalf("ContactByKeyPrefix() error = %v", err)
	}
	if ok {
		t.Errorf("ContactByKeyPrefix(1111AA) matched %+v", got)
	}
	got, ok, _ = c.ContactByKeyPrefix(ctx, "111111")
	if !ok || got.Name != "alice" {
		t.Errorf("ContactByKeyPrefix(111111) = %+v, %v, want alice", got, ok)
	}

	if _, ok, _ := c.ContactByName(ctx, "carol"); ok {
		t.Error("ContactByName(carol) ok = true")
	}
	if _, ok, _ := c.ContactByKeyPrefix(ctx, ""); ok {
		t.Error("ContactByKeyPrefix(\"\") ok = true")
	}
}

func TestContactCacheRefreshesOnMiss(t *testing.T) {
	mock, host := newMockCompanion(t)
	mock.AddContact("alice", key(0x11))
	c := newTestClient(t, host)
	ctx := context.Background()

	if _, ok, _ := c.ContactByName(ctx, "alice"); !ok {
		t.Fatal("alice not found")
	}
	mock.AddContact("dave", key(0x44))
	if _, ok, _ := c.ContactByName(ctx, "dave"); !ok {
		t.Error("dave not found after refresh")
	}
	if n := len(mock.ReceivedCode(CmdGetContacts)); n != 2 {
		t.Errorf("get contacts sent %d times, want 2", n)
	}
}

func TestSendDirect(t *testing.T) {
	mock, host := newMockCompanion(t)
	c := newTestClient(t, host)

	to := relay.Contact{Name: "alice", PublicKey: strings.Repeat("11", 32)}
	if err := c.SendDirect(context.Background(), to, "hello"); err != nil {
		t.Fatalf("SendDirect() error = %v", err)
	}

	frames := mock.ReceivedCode(CmdSendTxtMsg)
	if len(frames) != 1 {
		t.Fatalf("send frames = %d, want 1", len(frames))
	}
	f := frames[0]
	if string(f[7:13]) != strings.Repeat("\x11", 6) || string(f[13:]) != "hello" {
		t.Errorf("send frame = %x", f)
	}
}

func TestSendDirectDeviceError(t *testing.T) {
	mock, host := newMockCompanion(t)
	mock.sendErr = relay.CodeNoRoute
	c := newTestClient(t, host)

	err := c.SendDirect(context.Background(), relay.Contact{PublicKey: strings.Repeat("11", 32)}, "x")
	var de *relay.DeviceError
	if !errors.As(err, &de) || de.Code != relay.CodeNoRoute {
		t.Errorf("SendDirect() error = %v, want no route", err)
	}
}

func TestSendDirectBadKey(t *testing.T) {
	_, host := newMockCompanion(t)
	c := newTestClient(t, host)

	for _, k := range []string{"", "zz", "0102"} {
		err := c.SendDirect(context.Background(), relay.Contact{PublicKey: k}, "x")
		if !errors.Is(err, ErrBadPublicKey) {
			t.Errorf("SendDirect(%q) error = %v, want ErrBadPublicKey", k, err)
		}
	}
}

func TestSendBroadcast(t *testing.T) {
	mock, host := newMockCompanion(t)
	c := newTestClient(t, host)

	if err := c.SendBroadcast(context.Background(), "all"); err != nil {
		t.Fatalf("SendBroadcast() error = %v", err)
	}
	frames := mock.ReceivedCode(CmdSendChannelTxtMsg)
	if len(frames) != 1 || frames[0][2] != publicChannel || string(frames[0][7:]) != "all" {
		t.Errorf("channel frames = %x", frames)
	}
}

func TestRequestTimeout(t *testing.T) {
	_, host := newMockCompanion(t)
	c, err := NewClient(host, ClientOptions{ResponseTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	// the mock never answers device query
	_, err = c.request(context.Background(), []byte{CmdDeviceQuery, 0x01}, RespDeviceInfo)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Errorf("request() error = %v, want ErrResponseTimeout", err)
	}
}

func TestAutoFetchDrainsQueue(t *testing.T) {
	mock, host := newMockCompanion(t)
	mock.AddContact("alice", key(0x11))
	mock.Enqueue(contactMessageFrame([]byte{0x11, 0x11, 0x11, 0x11, 0x11, 0x11}, 1, 1700000000, "first"))
	mock.Enqueue(channelMessageFrame(0, 1700000001, "bob: second"))
	c := newTestClient(t, host)
	ctx := context.Background()

	// prime the contact cache and self id
	if _, _, err := c.ContactByName(ctx, "alice"); err != nil {
		t.Fatalf("ContactByName() error = %v", err)
	}
	if err := c.RequestSelfInfo(ctx); err != nil {
		t.Fatalf("RequestSelfInfo() error = %v", err)
	}
	nextEvent(t, c)

	c.Subscribe(relay.EventDirectMessage)
	c.Subscribe(relay.EventChannelMessage)
	if err := c.StartAutoFetch(ctx); err != nil {
		t.Fatalf("StartAutoFetch() error = %v", err)
	}

	direct := nextEvent(t, c)
	if direct.Kind != relay.EventDirectMessage {
		t.Fatalf("first event = %v, want direct_message", direct.Kind)
	}
	if direct.Attributes["from_id"] != "111111111111" || direct.Attributes["content"] != "first" {
		t.Errorf("direct attrs = %v", direct.Attributes)
	}
	if direct.Attributes["from_name"] != "alice" {
		t.Errorf("from_name = %v, want alice", direct.Attributes["from_name"])
	}
	if to, _ := direct.Attributes["to_id"].(string); !strings.HasPrefix(to, "a0a1") {
		t.Errorf("to_id = %v", direct.Attributes["to_id"])
	}

	channel := nextEvent(t, c)
	if channel.Kind != relay.EventChannelMessage {
		t.Fatalf("second event = %v, want channel_message", channel.Kind)
	}
	if channel.Attributes["from_id"] != "bob" || channel.Attributes["content"] != "second" {
		t.Errorf("channel attrs = %v", channel.Attributes)
	}

	// a push after the queue drains triggers another sync
	mock.Enqueue(channelMessageFrame(0, 1700000002, "third"))
	mock.Push([]byte{PushMsgWaiting})
	third := nextEvent(t, c)
	if third.Attributes["content"] != "third" {
		t.Errorf("third attrs = %v", third.Attributes)
	}
	if _, ok := third.Attributes["from_id"]; ok {
		t.Errorf("from_id set for unprefixed channel text: %v", third.Attributes["from_id"])
	}

	if err := c.StopAutoFetch(); err != nil {
		t.Errorf("StopAutoFetch() error = %v", err)
	}
	if err := c.StopAutoFetch(); err != nil {
		t.Errorf("second StopAutoFetch() error = %v", err)
	}
}

func TestLinkLossClosesEvents(t *testing.T) {
	mock, host := newMockCompanion(t)
	c := newTestClient(t, host)

	_ = mock.conn.Close()

	select {
	case _, ok := <-c.Events():
		if ok {
			t.Error("received event, want closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed after link loss")
	}

	if err := c.SendBroadcast(context.Background(), "x"); err == nil {
		t.Error("SendBroadcast() after link loss error = nil")
	}
}

func TestCloseIdempotent(t *testing.T) {
	_, host := newMockCompanion(t)
	c, err := NewClient(host, ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.StartAutoFetch(context.Background()); err != nil {
		t.Fatalf("StartAutoFetch() error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	_ = c.Close()

	if _, err := c.Subscribe(relay.EventError); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after close error = %v, want ErrClosed", err)
	}
	if err := c.StartAutoFetch(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("StartAutoFetch() after close error = %v, want ErrClosed", err)
	}
	if _, ok := <-c.Events(); ok {
		t.Error("event channel open after Close")
	}
}

func TestStats(t *testing.T) {
	_, host := newMockCompanion(t)
	c := newTestClient(t, host)

	if err := c.SendBroadcast(context.Background(), "x"); err != nil {
		t.Fatalf("SendBroadcast() error = %v", err)
	}
	st := c.Stats()
	if st.FramesTx != 1 || st.FramesRx != 1 {
		t.Errorf("Stats() = %+v, want 1 tx 1 rx", st)
	}
}
