package adb

import (
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Connection 到ADB服务器的一条连接
// 协议是严格的请求/响应，所有读写都在调用者的goroutine里阻塞完成
type Connection struct {
	options       *Options
	socket        net.Conn
	parser        *Parser
	proto         *Protocol
	mu            sync.Mutex
	closed        bool
	triedStarting bool
}

// NewConnection 创建新的连接
func NewConnection(options *Options) *Connection {
	return &Connection{
		options: options.withDefaults(),
		proto:   NewProtocol(),
	}
}

// Connect 建立连接
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket != nil {
		return fmt.Errorf("connection already established")
	}

	addr := net.JoinHostPort(c.options.Host, fmt.Sprintf("%d", c.options.Port))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		// 连接失败时尝试启动ADB服务器再重连一次
		if !c.triedStarting {
			c.triedStarting = true
			if err := c.startServer(); err != nil {
				return errors.Wrap(err, "failed to start ADB server")
			}
			conn, err = net.DialTimeout("tcp", addr, 10*time.Second)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to connect to ADB server at %s", addr)
		}
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	c.socket = conn
	c.parser = NewParser(conn)

	return nil
}

// SendCommand 发送带长度前缀的host命令并返回4字节状态
func (c *Connection) SendCommand(text string) (string, error) {
	if _, err := c.Write(c.proto.EncodeString(text)); err != nil {
		return "", errors.Wrapf(err, "failed to send command %q", text)
	}
	return c.ReadAscii(4)
}

// Write 写入原始数据
func (c *Connection) Write(data []byte) (int, error) {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()

	if socket == nil {
		return 0, fmt.Errorf("connection not established")
	}

	return socket.Write(data)
}

// ReadAscii 读取指定长度的ASCII字符串
func (c *Connection) ReadAscii(length int) (string, error) {
	return c.parser.ReadAscii(length)
}

// ReadBytes 读取指定长度的字节
func (c *Connection) ReadBytes(length int) ([]byte, error) {
	return c.parser.ReadBytes(length)
}

// ReadValue 读取长度前缀值（4位16进制长度+数据）
func (c *Connection) ReadValue() ([]byte, error) {
	return c.parser.ReadValue()
}

// ReadUint32 读取小端32位字段
func (c *Connection) ReadUint32() (uint32, error) {
	return c.parser.ReadUint32()
}

// ReadAll 读取所有剩余数据直到对端关闭
func (c *Connection) ReadAll() ([]byte, error) {
	return c.parser.ReadAll()
}

// ReadError 读取FAIL后的错误信息
func (c *Connection) ReadError() error {
	return c.parser.ReadError()
}

// GetParser 获取解析器
func (c *Connection) GetParser() *Parser {
	return c.parser
}

// IsConnected 检查是否已连接
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket != nil && !c.closed
}

// GetRemoteAddress 获取远程地址
func (c *Connection) GetRemoteAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		return c.socket.RemoteAddr().String()
	}
	return ""
}

// SetTimeout 设置超时
func (c *Connection) SetTimeout(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return fmt.Errorf("connection not established")
	}
	return c.socket.SetDeadline(time.Now().Add(timeout))
}

// ClearTimeout 清除超时
func (c *Connection) ClearTimeout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return fmt.Errorf("connection not established")
	}
	return c.socket.SetDeadline(time.Time{})
}

// Close 关闭连接
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket == nil || c.closed {
		return nil
	}

	c.closed = true
	err := c.socket.Close()
	c.socket = nil

	return err
}

// startServer 启动ADB服务器
func (c *Connection) startServer() error {
	cmd := exec.Command(c.options.Bin, "start-server")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "adb start-server failed, output: %s", output)
	}
	return nil
}
