package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "sudooom.im.client/errors"
	"sudooom.im.client/model"
)

func TestSendMessage(t *testing.T) {
	var gotReq SendRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		json.NewEncoder(w).Encode(&model.Message{
			Id:             42,
			SenderId:       1001,
			ConversationId: gotReq.ConversationId,
			Content:        gotReq.Content,
			MsgType:        gotReq.MsgType,
			Status:         model.MessageStatusSent,
			CreatedAt:      time.Now(),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func() string { return "tok-123" }, nil)
	msg, err := c.SendMessage(context.Background(), 7, "hello", model.MessageTypeText)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if msg.Id != 42 || msg.Status != model.MessageStatusSent {
		t.Errorf("unexpected message: %+v", msg)
	}
	if gotReq.ConversationId != 7 || gotReq.Content != "hello" {
		t.Errorf("unexpected request body: %+v", gotReq)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
}

func TestSendMessageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, err := c.SendMessage(context.Background(), 7, "hello", model.MessageTypeText)
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperrors.Is(err, apperrors.ErrSendFailed) {
		t.Errorf("expected ErrSendFailed, got %v", err)
	}
}

func TestFetchHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/7/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("cursor"); got != "c-99" {
			t.Errorf("expected cursor c-99, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Errorf("expected limit 20, got %q", got)
		}

		json.NewEncoder(w).Encode(&HistoryPage{
			Messages: []*model.Message{
				{Id: 1, ConversationId: 7, Content: "a"},
				{Id: 2, ConversationId: 7, Content: "b"},
			},
			NextCursor: "c-1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	page, err := c.FetchHistory(context.Background(), 7, "c-99", 20)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}

	if len(page.Messages) != 2 || page.NextCursor != "c-1" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestFetchHistoryNoQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("expected no query, got %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(&HistoryPage{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	if _, err := c.FetchHistory(context.Background(), 7, "", 0); err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
}
