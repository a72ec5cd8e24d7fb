package reconcile

import (
	"testing"
	"time"

	"sudooom.im.client/model"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func persisted(id, senderId int64, content string, at time.Time) *model.Message {
	return &model.Message{
		Id:             id,
		SenderId:       senderId,
		ConversationId: 100,
		Content:        content,
		MsgType:        model.MessageTypeText,
		Status:         model.MessageStatusSent,
		CreatedAt:      at,
	}
}

func optimistic(localId string, senderId int64, content string, at time.Time) *model.Message {
	return &model.Message{
		LocalId:        localId,
		SenderId:       senderId,
		ConversationId: 100,
		Content:        content,
		MsgType:        model.MessageTypeText,
		Status:         model.MessageStatusSending,
		CreatedAt:      at,
	}
}

func TestMergeIdDedup(t *testing.T) {
	existing := []*model.Message{persisted(1, 1001, "hello", baseTime)}

	out, changed := Merge(existing, persisted(1, 1001, "hello", baseTime.Add(time.Second)))
	if changed {
		t.Error("expected no change for duplicate id")
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
}

func TestMergeIdempotent(t *testing.T) {
	msg := persisted(5, 1001, "hi", baseTime)

	out, changed := Merge(nil, msg)
	if !changed || len(out) != 1 {
		t.Fatalf("first merge: changed=%v len=%d", changed, len(out))
	}

	out2, changed := Merge(out, msg.Clone())
	if changed {
		t.Error("second merge of same message must be a no-op")
	}
	if len(out2) != 1 {
		t.Fatalf("expected 1 message after double merge, got %d", len(out2))
	}
}

// 乐观条目被确认回显替换，一条消息不会以两种形态同时出现
func TestMergeOptimisticCollapse(t *testing.T) {
	existing := []*model.Message{optimistic("local-1", 1001, "hello", baseTime)}

	echo := persisted(42, 1001, "hello", baseTime.Add(300*time.Millisecond))
	out, changed := Merge(existing, echo)
	if !changed {
		t.Fatal("expected change")
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(out))
	}
	if out[0].Id != 42 {
		t.Errorf("expected persisted message to survive, got id=%d localId=%q", out[0].Id, out[0].LocalId)
	}

	// 原列表不被修改
	if existing[0].LocalId != "local-1" {
		t.Error("existing slice was mutated")
	}
}

func TestMergeContentWindowDedup(t *testing.T) {
	existing := []*model.Message{persisted(1, 1001, "hello", baseTime)}

	// 4999ms 内的同内容同发送者是重复
	dup := persisted(2, 1001, "hello", baseTime.Add(4999*time.Millisecond))
	if _, changed := Merge(existing, dup); changed {
		t.Error("expected dedup inside window")
	}

	// 超出窗口则是合法的重复发言
	later := persisted(3, 1001, "hello", baseTime.Add(5001*time.Millisecond))
	out, changed := Merge(existing, later)
	if !changed {
		t.Error("expected insert outside window")
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}

	// 不同发送者不受窗口影响
	other := persisted(4, 2002, "hello", baseTime.Add(time.Second))
	if _, changed := Merge(existing, other); !changed {
		t.Error("different sender must not be deduped")
	}
}

// 乱序到达的消息按 CreatedAt 升序排列
func TestMergeOrdering(t *testing.T) {
	var msgs []*model.Message
	var changed bool

	msgs, _ = Merge(msgs, persisted(1, 1001, "first", baseTime))
	msgs, _ = Merge(msgs, persisted(2, 1001, "earlier", baseTime.Add(-2*time.Second)))
	msgs, changed = Merge(msgs, persisted(3, 1001, "middle", baseTime.Add(500*time.Millisecond)))
	if !changed {
		t.Fatal("expected change")
	}

	wantIds := []int64{2, 1, 3}
	if len(msgs) != len(wantIds) {
		t.Fatalf("expected %d messages, got %d", len(wantIds), len(msgs))
	}
	for i, id := range wantIds {
		if msgs[i].Id != id {
			t.Errorf("position %d: expected id %d, got %d", i, id, msgs[i].Id)
		}
	}
}

// 相同 CreatedAt 时保持到达顺序（稳定排序）
func TestMergeStableOnEqualTimestamps(t *testing.T) {
	msgs, _ := Merge(nil, persisted(1, 1001, "a", baseTime))
	msgs, _ = Merge(msgs, persisted(2, 2002, "b", baseTime))

	if msgs[0].Id != 1 || msgs[1].Id != 2 {
		t.Errorf("expected arrival order preserved, got [%d %d]", msgs[0].Id, msgs[1].Id)
	}
}

func TestMergeNilIncoming(t *testing.T) {
	existing := []*model.Message{persisted(1, 1001, "x", baseTime)}
	out, changed := Merge(existing, nil)
	if changed || len(out) != 1 {
		t.Errorf("nil incoming must be a no-op")
	}
}
