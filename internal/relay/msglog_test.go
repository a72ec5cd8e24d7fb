package relay

import (
	"strconv"
	"testing"

	"sudooom.im.client/model"
)

func TestMessageLogAppend(t *testing.T) {
	l := NewMessageLog(1)

	stored := l.Append(&model.Message{
		LocalId:        "local-1",
		SenderId:       1001,
		ConversationId: 7,
		Content:        "hello",
		MsgType:        model.MessageTypeText,
	})

	if stored.Id <= 0 {
		t.Error("expected assigned id")
	}
	if stored.LocalId != "" {
		t.Error("localId must be cleared on persist")
	}
	if stored.Status != model.MessageStatusSent {
		t.Errorf("expected sent, got %s", stored.Status)
	}
	if stored.CreatedAt.IsZero() {
		t.Error("expected server timestamp")
	}

	// Id 单调递增
	second := l.Append(&model.Message{SenderId: 1001, ConversationId: 7, Content: "again"})
	if second.Id <= stored.Id {
		t.Errorf("ids must increase: %d then %d", stored.Id, second.Id)
	}
}

func TestMessageLogUpdateStatus(t *testing.T) {
	l := NewMessageLog(1)
	stored := l.Append(&model.Message{SenderId: 1001, ConversationId: 7, Content: "x"})

	if !l.UpdateStatus(7, stored.Id, model.MessageStatusDelivered, nil) {
		t.Fatal("UpdateStatus failed")
	}
	if l.UpdateStatus(7, 99999, model.MessageStatusRead, nil) {
		t.Error("unknown id must return false")
	}

	msgs, _ := l.History(7, "", 10)
	if msgs[0].Status != model.MessageStatusDelivered {
		t.Errorf("expected delivered, got %s", msgs[0].Status)
	}
}

func TestMessageLogHistoryPaging(t *testing.T) {
	l := NewMessageLog(1)
	for i := 0; i < 5; i++ {
		l.Append(&model.Message{SenderId: 1001, ConversationId: 7, Content: strconv.Itoa(i)})
	}

	// 首页：最近 2 条，升序排列
	page, next := l.History(7, "", 2)
	if len(page) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page))
	}
	if page[0].Content != "3" || page[1].Content != "4" {
		t.Errorf("unexpected first page: %s, %s", page[0].Content, page[1].Content)
	}
	if next == "" {
		t.Fatal("expected next cursor")
	}

	// 第二页往前翻
	page2, _ := l.History(7, next, 2)
	if len(page2) != 2 || page2[0].Content != "1" || page2[1].Content != "2" {
		t.Errorf("unexpected second page: %+v", page2)
	}

	// 翻到头
	page3, next3 := l.History(7, "", 100)
	if len(page3) != 5 || next3 != "" {
		t.Errorf("expected full page without cursor, got %d msgs cursor %q", len(page3), next3)
	}
}

func TestMessageLogEmptyConversation(t *testing.T) {
	l := NewMessageLog(1)
	msgs, next := l.History(99, "", 10)
	if len(msgs) != 0 || next != "" {
		t.Errorf("expected empty history, got %d msgs", len(msgs))
	}
}
