package adb

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Device 表示一个ADB设备
type Device struct {
	Serial string
	State  string
	Path   string // 仅在devices-l输出中出现
}

// ParseDevices 解析devices响应块
func ParseDevices(block string, long bool) ([]Device, error) {
	devices := make([]Device, 0)
	if block == "" {
		return devices, nil
	}

	for _, line := range strings.Split(block, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}

		if long {
			parts := strings.Fields(line)
			if len(parts) < 2 {
				return nil, fmt.Errorf("invalid device line: %q", line)
			}
			d := Device{Serial: parts[0], State: parts[1]}
			if len(parts) > 2 {
				d.Path = parts[2]
			}
			devices = append(devices, d)
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid device line: %q", line)
		}
		devices = append(devices, Device{Serial: parts[0], State: parts[1]})
	}
	return devices, nil
}

// ListDevices 获取解析后的设备列表
func (h *Host) ListDevices(long bool) ([]Device, error) {
	block, err := h.Devices(long)
	if err != nil {
		return nil, err
	}
	return ParseDevices(block, long)
}

// 连接成功的响应匹配
var reConnectOK = regexp.MustCompile(`connected to|already connected`)

// Connect 让服务器连接一个TCP设备
func (h *Host) Connect(host string, port int) (string, error) {
	if port == 0 {
		port = 5555
	}
	return h.hostConnect(fmt.Sprintf("host:connect:%s:%d", host, port), true)
}

// Disconnect 断开一个TCP设备
func (h *Host) Disconnect(host string, port int) (string, error) {
	if port == 0 {
		port = 5555
	}
	return h.hostConnect(fmt.Sprintf("host:disconnect:%s:%d", host, port), false)
}

func (h *Host) hostConnect(cmd string, checkConnected bool) (string, error) {
	var result string
	err := h.autoclose(func() error {
		conn, err := h.connection()
		if err != nil {
			return err
		}

		status, err := conn.SendCommand(cmd)
		if err != nil {
			return err
		}

		switch status {
		case OKAY:
			value, err := conn.ReadValue()
			if err != nil {
				return err
			}
			text := string(value)
			if checkConnected && !reConnectOK.MatchString(text) {
				return &FailError{Message: text}
			}
			result = text
			return nil
		case FAIL:
			failErr := conn.ReadError()
			h.logger.Warn("connect command failed",
				zap.String("cmd", cmd), zap.Error(failErr))
			return failErr
		default:
			return conn.GetParser().Unexpected([]byte(status), "OKAY or FAIL")
		}
	})
	return result, err
}

// DeviceTracker 跟踪设备列表变化
// 持有一条从会话移交出来的连接，直到Stop被调用
type DeviceTracker struct {
	conn    *Connection
	logger  *zap.Logger
	updates chan []Device
	stop    chan struct{}

	mu      sync.Mutex
	stopped bool
	err     error
}

// TrackDevices 启动设备跟踪
// 与Execute一样，成功时连接的所有权转移到返回的跟踪器
func (h *Host) TrackDevices() (*DeviceTracker, error) {
	var tracker *DeviceTracker
	err := h.autoclose(func() error {
		conn, err := h.connection()
		if err != nil {
			return err
		}

		status, err := conn.SendCommand("host:track-devices")
		if err != nil {
			return err
		}

		switch status {
		case OKAY:
			tracker = &DeviceTracker{
				conn:    h.detach(),
				logger:  h.logger,
				updates: make(chan []Device),
				stop:    make(chan struct{}),
			}
			return nil
		case FAIL:
			failErr := conn.ReadError()
			h.logger.Warn("could not track devices", zap.Error(failErr))
			return failErr
		default:
			return conn.GetParser().Unexpected([]byte(status), "OKAY or FAIL")
		}
	})
	if err != nil {
		return nil, err
	}

	go tracker.readLoop()
	return tracker, nil
}

// Updates 每当服务器推送新的设备列表时发送一次
// 跟踪结束时通道被关闭，之后Err返回终止原因
func (t *DeviceTracker) Updates() <-chan []Device {
	return t.updates
}

// Err 返回跟踪终止的原因，Stop导致的终止返回nil
func (t *DeviceTracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stop 停止跟踪并关闭连接
func (t *DeviceTracker) Stop() error {
	t.mu.Lock()
	if !t.stopped {
		t.stopped = true
		close(t.stop)
	}
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *DeviceTracker) readLoop() {
	defer close(t.updates)

	for {
		value, err := t.conn.ReadValue()
		if err != nil {
			t.mu.Lock()
			if !t.stopped {
				t.err = err
			}
			t.mu.Unlock()
			if t.Err() != nil {
				t.logger.Warn("device tracking ended", zap.Error(err))
			}
			t.conn.Close()
			return
		}

		devices, err := ParseDevices(string(value), false)
		if err != nil {
			t.logger.Warn("bad device block", zap.Error(err))
			continue
		}

		// 消费者可能已经调用Stop而不再接收，发送不能永久阻塞
		select {
		case t.updates <- devices:
		case <-t.stop:
			t.conn.Close()
			return
		}
	}
}
