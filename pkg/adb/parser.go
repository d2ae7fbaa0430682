package adb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Parser ADB数据解析器
type Parser struct {
	stream io.Reader
	proto  *Protocol
}

// NewParser 创建新的解析器
func NewParser(stream io.Reader) *Parser {
	return &Parser{
		stream: stream,
		proto:  NewProtocol(),
	}
}

// Raw 获取原始流
func (p *Parser) Raw() io.Reader {
	return p.stream
}

// ReadAll 读取所有数据直到流结束
func (p *Parser) ReadAll() ([]byte, error) {
	var buffer bytes.Buffer

	_, err := io.Copy(&buffer, p.stream)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read all data")
	}

	return buffer.Bytes(), nil
}

// ReadAscii 读取指定长度的ASCII字符串
func (p *Parser) ReadAscii(length int) (string, error) {
	data, err := p.ReadBytes(length)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadBytes 读取指定长度的字节
func (p *Parser) ReadBytes(length int) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}

	buffer := make([]byte, length)
	n, err := io.ReadFull(p.stream, buffer)

	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &PrematureEOFError{
				MissingBytes: length - n,
			}
		}
		return nil, errors.Wrap(err, "failed to read bytes")
	}

	return buffer, nil
}

// ReadUint32 读取小端32位无符号整数（同步子协议字段）
func (p *Parser) ReadUint32() (uint32, error) {
	data, err := p.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// ReadByteFlow 读取指定长度的字节流到目标Writer
func (p *Parser) ReadByteFlow(length int, target io.Writer) error {
	if length == 0 {
		return nil
	}

	n, err := io.CopyN(target, p.stream, int64(length))
	if err != nil {
		if err == io.EOF {
			return &PrematureEOFError{
				MissingBytes: length - int(n),
			}
		}
		return errors.Wrap(err, "failed to copy bytes")
	}

	return nil
}

// ReadError 读取FAIL后的错误信息
func (p *Parser) ReadError() error {
	value, err := p.ReadValue()
	if err != nil {
		return err
	}
	return &FailError{Message: string(value)}
}

// ReadValue 读取长度前缀值
func (p *Parser) ReadValue() ([]byte, error) {
	lenBytes, err := p.ReadAscii(4)
	if err != nil {
		return nil, err
	}

	length, err := p.proto.DecodeLength(lenBytes)
	if err != nil {
		return nil, err
	}

	return p.ReadBytes(length)
}

// ReadUntil 读取直到指定字节
func (p *Parser) ReadUntil(code byte) ([]byte, error) {
	var buffer bytes.Buffer

	for {
		b, err := p.ReadBytes(1)
		if err != nil {
			return nil, err
		}

		if b[0] == code {
			return buffer.Bytes(), nil
		}

		buffer.Write(b)
	}
}

// ReadLine 读取一行
func (p *Parser) ReadLine() ([]byte, error) {
	line, err := p.ReadUntil(0x0a) // '\n'
	if err != nil {
		return nil, err
	}

	if len(line) > 0 && line[len(line)-1] == 0x0d {
		line = line[:len(line)-1]
	}

	return line, nil
}

// Unexpected 生成意外数据错误
func (p *Parser) Unexpected(data []byte, expected string) error {
	return &UnexpectedDataError{
		Unexpected: string(data),
		Expected:   expected,
	}
}

// Error 类型定义
type (
	// FailError 服务器返回FAIL（协议层的正常失败结果）
	FailError struct {
		Message string
	}

	// PrematureEOFError 传输层过早EOF错误
	PrematureEOFError struct {
		MissingBytes int
	}

	// UnexpectedDataError 协议违例（非法长度字段、意外状态或标签）
	UnexpectedDataError struct {
		Unexpected string
		Expected   string
	}
)

// Error 实现
func (e *FailError) Error() string {
	return fmt.Sprintf("Failure: '%s'", e.Message)
}

func (e *PrematureEOFError) Error() string {
	return fmt.Sprintf("Premature end of stream, needed %d more bytes", e.MissingBytes)
}

func (e *UnexpectedDataError) Error() string {
	return fmt.Sprintf("Unexpected '%s', was expecting %s", e.Unexpected, e.Expected)
}
