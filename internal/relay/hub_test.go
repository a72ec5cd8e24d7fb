package relay

import (
	"testing"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

func addConn(t *testing.T, h *Hub, userId int64) *Conn {
	t.Helper()
	conn := NewConn(model.TransportWebTransport)
	h.Add(conn)
	conn.BindUser(userId, "test")
	h.BindUser(conn.ID(), userId)
	return conn
}

func drainOutbox(conn *Conn) []*proto.Frame {
	var out []*proto.Frame
	for {
		select {
		case f := <-conn.Outbox():
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHubConversationFanOut(t *testing.T) {
	h := NewHub()
	a := addConn(t, h, 1001)
	b := addConn(t, h, 2002)
	c := addConn(t, h, 3003)

	h.Join(a.ID(), 7)
	h.Join(b.ID(), 7)
	// c 不在会话中

	f := &proto.Frame{Type: proto.FrameEvent, Body: []byte(`{}`)}
	sent := h.SendToConversation(7, f, a.ID())
	if sent != 1 {
		t.Errorf("expected 1 delivery, got %d", sent)
	}

	if got := len(drainOutbox(a)); got != 0 {
		t.Errorf("sender must be excluded, got %d frames", got)
	}
	if got := len(drainOutbox(b)); got != 1 {
		t.Errorf("member must receive 1 frame, got %d", got)
	}
	if got := len(drainOutbox(c)); got != 0 {
		t.Errorf("non-member must receive nothing, got %d frames", got)
	}
}

func TestHubJoinIdempotent(t *testing.T) {
	h := NewHub()
	a := addConn(t, h, 1001)
	b := addConn(t, h, 2002)

	h.Join(b.ID(), 7)
	h.Join(b.ID(), 7)

	f := &proto.Frame{Type: proto.FrameEvent}
	if sent := h.SendToConversation(7, f, a.ID()); sent != 1 {
		t.Errorf("double join must not duplicate delivery, sent=%d", sent)
	}
}

func TestHubLeave(t *testing.T) {
	h := NewHub()
	a := addConn(t, h, 1001)

	h.Join(a.ID(), 7)
	h.Leave(a.ID(), 7)

	if sent := h.SendToConversation(7, &proto.Frame{Type: proto.FrameEvent}, ""); sent != 0 {
		t.Errorf("expected no delivery after leave, got %d", sent)
	}
}

func TestHubRemoveCleansMembership(t *testing.T) {
	h := NewHub()
	a := addConn(t, h, 1001)

	h.Join(a.ID(), 7)
	h.Join(a.ID(), 8)

	removed := h.Remove(a.ID())
	if removed == nil {
		t.Fatal("Remove returned nil")
	}
	if h.Get(a.ID()) != nil {
		t.Error("conn still retrievable after Remove")
	}
	if h.Count() != 0 {
		t.Errorf("expected 0 conns, got %d", h.Count())
	}
	if sent := h.SendToConversation(7, &proto.Frame{Type: proto.FrameEvent}, ""); sent != 0 {
		t.Error("removed conn still in conversation 7")
	}
	if h.UserConnCount(1001) != 0 {
		t.Error("user index not cleaned")
	}
}

func TestHubSendToUserMultiDevice(t *testing.T) {
	h := NewHub()
	phone := addConn(t, h, 1001)
	desktop := addConn(t, h, 1001)

	if h.UserConnCount(1001) != 2 {
		t.Fatalf("expected 2 conns for user, got %d", h.UserConnCount(1001))
	}

	sent := h.SendToUser(1001, &proto.Frame{Type: proto.FrameEvent})
	if sent != 2 {
		t.Errorf("expected delivery to both devices, got %d", sent)
	}
	if len(drainOutbox(phone)) != 1 || len(drainOutbox(desktop)) != 1 {
		t.Error("both devices must receive the frame")
	}
}

func TestConnSendAfterClose(t *testing.T) {
	conn := NewConn(model.TransportSSE)
	conn.Close()

	if err := conn.Send(&proto.Frame{Type: proto.FrameEvent}); err != ErrConnClosed {
		t.Errorf("expected ErrConnClosed, got %v", err)
	}
	// 重复关闭无副作用
	conn.Close()
}

func TestConnSendBusy(t *testing.T) {
	conn := NewConn(model.TransportLongPoll)

	var err error
	for i := 0; i < 1000; i++ {
		if err = conn.Send(&proto.Frame{Type: proto.FrameEvent}); err != nil {
			break
		}
	}
	if err != ErrConnBusy {
		t.Errorf("expected ErrConnBusy on full outbox, got %v", err)
	}
}
