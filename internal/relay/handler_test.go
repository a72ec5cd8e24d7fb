package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sudooom.im.client/auth"
	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

func testHandler(t *testing.T) (*Handler, *Hub, *auth.Service) {
	t.Helper()
	hub := NewHub()
	tokens := auth.NewService("test-secret", time.Hour)
	presence := NewMemoryPresence()
	msgLog := NewMessageLog(1)
	return NewHandler(hub, tokens, presence, msgLog, nil, nil), hub, tokens
}

func registerConn(t *testing.T, h *Handler, hub *Hub, tokens *auth.Service, userId int64) *Conn {
	t.Helper()
	conn := NewConn(model.TransportWebTransport)
	hub.Add(conn)

	token, err := tokens.Generate(userId, "d1", "test")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	body, _ := json.Marshal(proto.RegisterRequest{
		UserId: userId, Token: token, DeviceId: "d1", Platform: "test",
	})
	h.HandleFrame(context.Background(), conn, &proto.Frame{Type: proto.FrameRegister, Body: body})

	frames := drainOutbox(conn)
	if len(frames) == 0 || frames[0].Type != proto.FrameRegisterAck {
		t.Fatalf("expected register ack, got %v", frames)
	}
	var ack proto.RegisterAck
	if err := json.Unmarshal(frames[0].Body, &ack); err != nil {
		t.Fatalf("unmarshal ack failed: %v", err)
	}
	if ack.Code != 0 || ack.UserId != userId {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	return conn
}

func invoke(h *Handler, conn *Conn, inv *proto.Invocation) {
	body, _ := json.Marshal(inv)
	h.HandleFrame(context.Background(), conn, &proto.Frame{Type: proto.FrameInvocation, Body: body})
}

func decodeEvents(t *testing.T, frames []*proto.Frame) []*proto.Event {
	t.Helper()
	var out []*proto.Event
	for _, f := range frames {
		if f.Type != proto.FrameEvent {
			continue
		}
		var ev proto.Event
		if err := json.Unmarshal(f.Body, &ev); err != nil {
			t.Fatalf("unmarshal event failed: %v", err)
		}
		out = append(out, &ev)
	}
	return out
}

func TestRegisterRejectsBadToken(t *testing.T) {
	h, hub, _ := testHandler(t)

	conn := NewConn(model.TransportWebTransport)
	hub.Add(conn)

	body, _ := json.Marshal(proto.RegisterRequest{UserId: 1001, Token: "garbage"})
	h.HandleFrame(context.Background(), conn, &proto.Frame{Type: proto.FrameRegister, Body: body})

	frames := drainOutbox(conn)
	if len(frames) != 1 || frames[0].Type != proto.FrameRegisterAck {
		t.Fatalf("expected single ack, got %v", frames)
	}
	var ack proto.RegisterAck
	json.Unmarshal(frames[0].Body, &ack)
	if ack.Code == 0 {
		t.Error("expected non-zero code for bad token")
	}
	if conn.UserID() != 0 {
		t.Error("conn must stay unbound after rejected register")
	}
}

func TestRegisterRejectsUserMismatch(t *testing.T) {
	h, hub, tokens := testHandler(t)

	conn := NewConn(model.TransportWebTransport)
	hub.Add(conn)

	// token 属于另一个用户
	token, _ := tokens.Generate(2002, "d1", "test")
	body, _ := json.Marshal(proto.RegisterRequest{UserId: 1001, Token: token})
	h.HandleFrame(context.Background(), conn, &proto.Frame{Type: proto.FrameRegister, Body: body})

	var ack proto.RegisterAck
	frames := drainOutbox(conn)
	json.Unmarshal(frames[0].Body, &ack)
	if ack.Code == 0 {
		t.Error("expected rejection for token/user mismatch")
	}
}

func TestInvocationBeforeRegisterDropped(t *testing.T) {
	h, hub, _ := testHandler(t)

	conn := NewConn(model.TransportWebTransport)
	hub.Add(conn)

	invoke(h, conn, &proto.Invocation{Target: proto.TargetJoinConversation, ConversationId: 7})
	if frames := drainOutbox(conn); len(frames) != 0 {
		t.Errorf("unregistered invocation must be dropped, got %d frames", len(frames))
	}
}

func TestJoinLeaveReplies(t *testing.T) {
	h, hub, tokens := testHandler(t)
	conn := registerConn(t, h, hub, tokens, 1001)
	drainOutbox(conn)

	invoke(h, conn, &proto.Invocation{Target: proto.TargetJoinConversation, ConversationId: 7})
	events := decodeEvents(t, drainOutbox(conn))
	if len(events) != 1 || events[0].JoinedConversation == nil ||
		events[0].JoinedConversation.ConversationId != 7 {
		t.Fatalf("expected JoinedConversation(7), got %+v", events)
	}

	invoke(h, conn, &proto.Invocation{Target: proto.TargetLeaveConversation, ConversationId: 7})
	events = decodeEvents(t, drainOutbox(conn))
	if len(events) != 1 || events[0].LeftConversation == nil {
		t.Fatalf("expected LeftConversation, got %+v", events)
	}
}

func TestTypingFanOut(t *testing.T) {
	h, hub, tokens := testHandler(t)
	alice := registerConn(t, h, hub, tokens, 1001)
	bob := registerConn(t, h, hub, tokens, 2002)
	drainOutbox(alice)
	drainOutbox(bob)

	invoke(h, alice, &proto.Invocation{Target: proto.TargetJoinConversation, ConversationId: 7})
	invoke(h, bob, &proto.Invocation{Target: proto.TargetJoinConversation, ConversationId: 7})
	drainOutbox(alice)
	drainOutbox(bob)

	invoke(h, alice, &proto.Invocation{Target: proto.TargetStartTyping, ConversationId: 7})

	// 发起者自己收不到
	if events := decodeEvents(t, drainOutbox(alice)); len(events) != 0 {
		t.Errorf("typing echo to sender: %+v", events)
	}

	events := decodeEvents(t, drainOutbox(bob))
	if len(events) != 1 || events[0].UserTyping == nil {
		t.Fatalf("expected UserTyping, got %+v", events)
	}
	ev := events[0].UserTyping
	if ev.UserId != 1001 || ev.ConversationId != 7 || !ev.Typing {
		t.Errorf("unexpected typing event: %+v", ev)
	}
}

// 广播已持久化消息：成员收到 ReceiveMessage，发送方收到 delivered 回执
func TestBroadcastMessage(t *testing.T) {
	h, hub, tokens := testHandler(t)
	alice := registerConn(t, h, hub, tokens, 1001)
	bob := registerConn(t, h, hub, tokens, 2002)

	invoke(h, alice, &proto.Invocation{Target: proto.TargetJoinConversation, ConversationId: 7})
	invoke(h, bob, &proto.Invocation{Target: proto.TargetJoinConversation, ConversationId: 7})
	drainOutbox(alice)
	drainOutbox(bob)

	msg := &model.Message{
		Id: 42, SenderId: 1001, ConversationId: 7, Content: "hello",
		Status: model.MessageStatusSent, CreatedAt: time.Now(),
	}
	invoke(h, alice, &proto.Invocation{
		Target: proto.TargetBroadcastMessage, ConversationId: 7, Message: msg,
	})

	bobEvents := decodeEvents(t, drainOutbox(bob))
	if len(bobEvents) != 1 || bobEvents[0].ReceiveMessage == nil {
		t.Fatalf("expected ReceiveMessage for member, got %+v", bobEvents)
	}
	if bobEvents[0].ReceiveMessage.Id != 42 {
		t.Errorf("unexpected message: %+v", bobEvents[0].ReceiveMessage)
	}

	aliceEvents := decodeEvents(t, drainOutbox(alice))
	if len(aliceEvents) != 1 || aliceEvents[0].MessageStatusChanged == nil {
		t.Fatalf("expected delivered receipt for sender, got %+v", aliceEvents)
	}
	sc := aliceEvents[0].MessageStatusChanged
	if sc.MessageId != 42 || sc.Status != model.MessageStatusDelivered {
		t.Errorf("unexpected status change: %+v", sc)
	}
}

// 乐观消息（无服务端 Id）不允许广播
func TestBroadcastRejectsUnpersisted(t *testing.T) {
	h, hub, tokens := testHandler(t)
	alice := registerConn(t, h, hub, tokens, 1001)
	bob := registerConn(t, h, hub, tokens, 2002)

	invoke(h, alice, &proto.Invocation{Target: proto.TargetJoinConversation, ConversationId: 7})
	invoke(h, bob, &proto.Invocation{Target: proto.TargetJoinConversation, ConversationId: 7})
	drainOutbox(alice)
	drainOutbox(bob)

	invoke(h, alice, &proto.Invocation{
		Target:         proto.TargetBroadcastMessage,
		ConversationId: 7,
		Message:        &model.Message{LocalId: "local-1", SenderId: 1001, ConversationId: 7},
	})

	if events := decodeEvents(t, drainOutbox(bob)); len(events) != 0 {
		t.Errorf("unpersisted message must not fan out: %+v", events)
	}
}

func TestHeartbeatEcho(t *testing.T) {
	h, hub, tokens := testHandler(t)
	conn := registerConn(t, h, hub, tokens, 1001)
	drainOutbox(conn)

	h.HandleFrame(context.Background(), conn, &proto.Frame{Type: proto.FrameHeartbeat})

	frames := drainOutbox(conn)
	if len(frames) != 1 || frames[0].Type != proto.FrameHeartbeat {
		t.Fatalf("expected heartbeat echo, got %v", frames)
	}
}

func TestDisconnectedBroadcastsOffline(t *testing.T) {
	h, hub, tokens := testHandler(t)
	alice := registerConn(t, h, hub, tokens, 1001)
	bob := registerConn(t, h, hub, tokens, 2002)
	drainOutbox(alice)
	drainOutbox(bob)

	h.Disconnected(context.Background(), alice)

	events := decodeEvents(t, drainOutbox(bob))
	if len(events) != 1 || events[0].PresenceChanged == nil {
		t.Fatalf("expected PresenceChanged, got %+v", events)
	}
	ev := events[0].PresenceChanged
	if ev.UserId != 1001 || ev.Online {
		t.Errorf("expected offline for 1001, got %+v", ev)
	}
	if hub.Get(alice.ID()) != nil {
		t.Error("conn must be removed from hub")
	}
}

// 多端在线时单连接断开不广播下线
func TestDisconnectedKeepsMultiDeviceOnline(t *testing.T) {
	h, hub, tokens := testHandler(t)
	phone := registerConn(t, h, hub, tokens, 1001)
	desktop := registerConn(t, h, hub, tokens, 1001)
	bob := registerConn(t, h, hub, tokens, 2002)
	drainOutbox(phone)
	drainOutbox(desktop)
	drainOutbox(bob)

	h.Disconnected(context.Background(), phone)

	if events := decodeEvents(t, drainOutbox(bob)); len(events) != 0 {
		t.Errorf("offline must not broadcast while another device is up: %+v", events)
	}
}
