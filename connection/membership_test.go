package connection

import (
	"context"
	"encoding/json"
	"testing"

	"sudooom.im.client/proto"
)

func TestMembershipJoinLeave(t *testing.T) {
	opener := okOpener()
	mgr := NewManager(opener, "fake://", testCreds(), testOptions(), nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	m := NewMembership(mgr, nil)
	m.Join(7)
	m.Leave(7)

	frames := opener.channel(0).sentFrames(proto.FrameInvocation)
	if len(frames) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(frames))
	}

	var join, leave proto.Invocation
	if err := json.Unmarshal(frames[0].Body, &join); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(frames[1].Body, &leave); err != nil {
		t.Fatal(err)
	}

	if join.Target != proto.TargetJoinConversation || join.ConversationId != 7 {
		t.Errorf("unexpected join: %+v", join)
	}
	if join.UserId != 1001 {
		t.Errorf("expected userId 1001, got %d", join.UserId)
	}
	if leave.Target != proto.TargetLeaveConversation || leave.ConversationId != 7 {
		t.Errorf("unexpected leave: %+v", leave)
	}
}

// 未连通时 Join/Leave 静默跳过，不报错不阻塞
func TestMembershipSkipsWhenDisconnected(t *testing.T) {
	opener := okOpener()
	mgr := NewManager(opener, "fake://", testCreds(), testOptions(), nil)

	m := NewMembership(mgr, nil)
	m.Join(7)
	m.Leave(7)

	if opener.openCalls() != 0 {
		t.Error("membership calls must not dial")
	}
}
