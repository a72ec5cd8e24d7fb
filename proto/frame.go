package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize 帧头大小：4 字节长度 + 2 字节帧类型
	HeaderSize = 6

	// MaxFrameSize 单帧最大长度，超出视为协议错误
	MaxFrameSize = 1 << 20
)

// 帧类型
const (
	FrameHeartbeat   uint16 = 0  // 心跳
	FrameRegister    uint16 = 1  // 注册握手请求
	FrameRegisterAck uint16 = 2  // 注册握手响应
	FrameInvocation  uint16 = 10 // 客户端远程调用
	FrameEvent       uint16 = 20 // 服务端推送事件
)

// Frame 一个完整的协议帧
type Frame struct {
	Type uint16
	Body []byte
}

// Encode 编码为 header + body 的二进制帧
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(f.Body)))
	binary.BigEndian.PutUint16(buf[4:6], f.Type)
	copy(buf[HeaderSize:], f.Body)
	return buf
}

// ReadFrame 从流中读取一个完整帧
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:4])
	msgType := binary.BigEndian.Uint16(header[4:6])

	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return &Frame{Type: msgType, Body: body}, nil
}

// WriteFrame 将一个帧完整写入流
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(f.Encode())
	return err
}
