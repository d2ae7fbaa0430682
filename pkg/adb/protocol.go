package adb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Protocol ADB协议常量和编解码工具
type Protocol struct{}

// 协议常量
const (
	OKAY = "OKAY"
	FAIL = "FAIL"
	STAT = "STAT"
	LIST = "LIST"
	DENT = "DENT"
	RECV = "RECV"
	DATA = "DATA"
	DONE = "DONE"
	SEND = "SEND"
	QUIT = "QUIT"
)

// MaxPayload 长度前缀所能表示的最大负载
const MaxPayload = 0xffff

// NewProtocol 创建新的协议实例
func NewProtocol() *Protocol {
	return &Protocol{}
}

// EncodeLength 编码长度值（4位小写16进制）
func (p *Protocol) EncodeLength(length int) string {
	if length < 0 || length > MaxPayload {
		panic(fmt.Sprintf("adb: payload length %d not representable in 4 hex digits", length))
	}
	return fmt.Sprintf("%04x", length)
}

// DecodeLength 解码长度值（从16进制字符串）
func (p *Protocol) DecodeLength(length string) (int, error) {
	if len(length) != 4 {
		return 0, &UnexpectedDataError{Unexpected: length, Expected: "four hex digits"}
	}
	val := 0
	for i := 0; i < 4; i++ {
		c := length[i]
		switch {
		case c >= '0' && c <= '9':
			val = val<<4 | int(c-'0')
		case c >= 'a' && c <= 'f':
			val = val<<4 | int(c-'a'+10)
		case c >= 'A' && c <= 'F':
			val = val<<4 | int(c-'A'+10)
		default:
			return 0, &UnexpectedDataError{Unexpected: length, Expected: "four hex digits"}
		}
	}
	return val, nil
}

// EncodeData 编码数据（添加长度前缀）
func (p *Protocol) EncodeData(data []byte) []byte {
	if data == nil {
		data = []byte{}
	}

	prefix := []byte(p.EncodeLength(len(data)))
	return append(prefix, data...)
}

// EncodeString 编码字符串（用于传输）
func (p *Protocol) EncodeString(s string) []byte {
	return p.EncodeData([]byte(s))
}

// DecodeData 解码数据（解析长度前缀）
func (p *Protocol) DecodeData(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for protocol decode")
	}

	length, err := p.DecodeLength(string(data[:4]))
	if err != nil {
		return nil, err
	}

	if len(data) < 4+length {
		return nil, fmt.Errorf("incomplete data: expected %d bytes, got %d", length, len(data)-4)
	}

	return data[4 : 4+length], nil
}

// FormatSync 格式化同步命令头（4字节标签+小端32位长度）
// 同步子协议的长度字段是二进制小端，与host命令的16进制前缀不同
func (p *Protocol) FormatSync(cmd string, length uint32) []byte {
	if len(cmd) != 4 {
		panic(fmt.Sprintf("adb: sync tag %q must be 4 bytes", cmd))
	}
	message := make([]byte, 8)
	copy(message[:4], cmd)
	binary.LittleEndian.PutUint32(message[4:], length)
	return message
}

// FormatSyncRequest 格式化带参数的同步请求
func (p *Protocol) FormatSyncRequest(cmd string, arg string) []byte {
	message := p.FormatSync(cmd, uint32(len(arg)))
	return append(message, []byte(arg)...)
}

// ParseSyncHeader 解析同步响应头
func (p *Protocol) ParseSyncHeader(header []byte) (string, uint32, error) {
	if len(header) < 8 {
		return "", 0, fmt.Errorf("sync header too short")
	}
	cmd := string(header[:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	return cmd, length, nil
}

// EncodeMessage 编码消息（命令和冒号分隔的参数）
func (p *Protocol) EncodeMessage(cmd string, args ...string) []byte {
	var buffer bytes.Buffer

	buffer.WriteString(cmd)
	for _, arg := range args {
		buffer.WriteByte(':')
		buffer.WriteString(arg)
	}

	return p.EncodeData(buffer.Bytes())
}
