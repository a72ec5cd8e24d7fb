package proto

import "encoding/json"

// TextFrame 帧的 JSON 表示
// 二进制帧用于全双工流传输；SSE 与轮询传输走 HTTP，帧以 JSON 形式承载
type TextFrame struct {
	Type uint16          `json:"Type"`
	Body json.RawMessage `json:"Body,omitempty"`
}

// Text 转换为 JSON 表示
func (f *Frame) Text() *TextFrame {
	return &TextFrame{Type: f.Type, Body: f.Body}
}

// Frame 转换回二进制帧表示
func (tf *TextFrame) Frame() *Frame {
	return &Frame{Type: tf.Type, Body: tf.Body}
}
