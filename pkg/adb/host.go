package adb

import (
	"io"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Host ADB host会话，持有最多一条延迟建立的连接
// 每个公开操作结束时连接都会被关闭，唯一例外是Execute把连接移交给调用者
type Host struct {
	options *Options
	logger  *zap.Logger
	conn    *Connection
	mu      sync.Mutex
}

// NewHost 创建新的host会话
func NewHost(options *Options, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		options: options.withDefaults(),
		logger:  logger,
	}
}

// connection 延迟建立连接
func (h *Host) connection() (*Connection, error) {
	if h.conn == nil {
		conn := NewConnection(h.options)
		if err := conn.Connect(); err != nil {
			return nil, err
		}
		if h.options.Timeout > 0 {
			if err := conn.SetTimeout(h.options.Timeout); err != nil {
				conn.Close()
				return nil, err
			}
		}
		h.conn = conn
	}
	return h.conn, nil
}

// closeConnection 关闭并清除当前连接
func (h *Host) closeConnection() {
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}
}

// detach 移交当前连接的所有权给调用者
// 移交的连接可能长期空闲，命令期限在这里解除
func (h *Host) detach() *Connection {
	conn := h.conn
	h.conn = nil
	if conn != nil {
		conn.ClearTimeout()
	}
	return conn
}

// autoclose 包装一个命令体，保证返回时不再持有连接
func (h *Host) autoclose(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.closeConnection()
	return fn()
}

// withTransport 先选择传输再执行命令体，传输失败时命令体不执行
func (h *Host) withTransport(serial string, fn func(conn *Connection) error) error {
	return h.autoclose(func() error {
		conn, err := h.selectTransport(serial)
		if err != nil {
			return err
		}
		return fn(conn)
	})
}

// selectTransport 执行host:transport:<serial>握手
func (h *Host) selectTransport(serial string) (*Connection, error) {
	conn, err := h.connection()
	if err != nil {
		return nil, err
	}

	serial = h.options.device(serial)
	status, err := conn.SendCommand("host:transport:" + serial)
	if err != nil {
		return nil, err
	}

	switch status {
	case OKAY:
		return conn, nil
	case FAIL:
		failErr := conn.ReadError()
		h.logger.Warn("could not set transport",
			zap.String("serial", serial), zap.Error(failErr))
		return nil, failErr
	default:
		return nil, conn.GetParser().Unexpected([]byte(status), "OKAY or FAIL")
	}
}

// Version 获取ADB服务器版本
func (h *Host) Version() (int, error) {
	var version int
	err := h.autoclose(func() error {
		conn, err := h.connection()
		if err != nil {
			return err
		}

		status, err := conn.SendCommand("host:version")
		if err != nil {
			return err
		}

		switch status {
		case OKAY:
			value, err := conn.ReadValue()
			if err != nil {
				return err
			}
			v, err := strconv.ParseInt(strings.TrimSpace(string(value)), 16, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid version value %q", value)
			}
			version = int(v)
			return nil
		case FAIL:
			failErr := conn.ReadError()
			h.logger.Warn("could not fetch version", zap.Error(failErr))
			return failErr
		default:
			return conn.GetParser().Unexpected([]byte(status), "OKAY or FAIL")
		}
	})
	return version, err
}

// Devices 获取设备列表原始文本
func (h *Host) Devices(long bool) (string, error) {
	var block string
	err := h.autoclose(func() error {
		conn, err := h.connection()
		if err != nil {
			return err
		}

		msg := "host:devices"
		if long {
			msg += "-l"
		}

		status, err := conn.SendCommand(msg)
		if err != nil {
			return err
		}

		switch status {
		case OKAY:
			value, err := conn.ReadValue()
			if err != nil {
				return err
			}
			block = string(value)
			return nil
		case FAIL:
			failErr := conn.ReadError()
			h.logger.Warn("could not enumerate devices", zap.Error(failErr))
			return failErr
		default:
			return conn.GetParser().Unexpected([]byte(status), "OKAY or FAIL")
		}
	})
	return block, err
}

// Kill 终止ADB服务器；服务器可能在应答前直接断开，流结束不算错误
func (h *Host) Kill() error {
	return h.autoclose(func() error {
		conn, err := h.connection()
		if err != nil {
			return err
		}

		_, err = conn.SendCommand("host:kill")
		if err != nil && !serverGone(err) {
			return err
		}
		return nil
	})
}

// serverGone 判断错误是否只是服务器在应答前退出
// 退出可能表现为读到EOF，也可能表现为写入已关闭的连接
func serverGone(err error) bool {
	var eof *PrematureEOFError
	if errors.As(err, &eof) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// Transport 选择传输，使会话进入设备作用域
// 成功后连接保持打开，由调用者通过Close释放
func (h *Host) Transport(serial string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.selectTransport(serial)
	if err != nil {
		h.closeConnection()
	}
	return err
}

// Execute 在设备上执行exec命令，成功时把仍然打开的连接移交给调用者
// 调用者负责读取输出并关闭连接
func (h *Host) Execute(argv ...string) (*Connection, error) {
	var detached *Connection
	err := h.withTransport("", func(conn *Connection) error {
		cmd := "exec:" + ShJoin(argv)

		status, err := conn.SendCommand(cmd)
		if err != nil {
			return err
		}

		switch status {
		case OKAY:
			detached = h.detach()
			return nil
		case FAIL:
			failErr := conn.ReadError()
			h.logger.Warn("could not execute command",
				zap.String("cmd", cmd), zap.Error(failErr))
			return failErr
		default:
			return conn.GetParser().Unexpected([]byte(status), "OKAY or FAIL")
		}
	})
	if err != nil {
		return nil, err
	}
	return detached, nil
}

// fireAndRead 发送设备作用域命令，读掉状态后排干剩余数据
// 这类命令（remount、root、reboot等）的响应是非结构化文本，没有OKAY检查
func (h *Host) fireAndRead(cmd string) ([]byte, error) {
	var out []byte
	err := h.withTransport("", func(conn *Connection) error {
		if _, err := conn.SendCommand(cmd); err != nil {
			return err
		}

		data, err := conn.ReadAll()
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

// Remount 以读写方式重新挂载系统分区
func (h *Host) Remount() ([]byte, error) {
	return h.fireAndRead("remount:")
}

// Root 以root权限重启adbd
func (h *Host) Root() ([]byte, error) {
	return h.fireAndRead("root:")
}

// Unroot 取消adbd的root权限
func (h *Host) Unroot() ([]byte, error) {
	return h.fireAndRead("unroot:")
}

// DisableVerity 关闭dm-verity校验
func (h *Host) DisableVerity() ([]byte, error) {
	return h.fireAndRead("disable-verity:")
}

// EnableVerity 开启dm-verity校验
func (h *Host) EnableVerity() ([]byte, error) {
	return h.fireAndRead("enable-verity:")
}

// Reconnect 重新连接设备
func (h *Host) Reconnect() ([]byte, error) {
	return h.fireAndRead("reconnect:")
}

// Reboot 重启设备
func (h *Host) Reboot() ([]byte, error) {
	return h.fireAndRead("reboot:")
}

// RebootBootloader 重启设备到bootloader
func (h *Host) RebootBootloader() ([]byte, error) {
	return h.fireAndRead("reboot:bootloader")
}

// Close 释放会话仍然持有的连接
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeConnection()
	return nil
}
