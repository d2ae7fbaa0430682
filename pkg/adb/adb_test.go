package adb

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script 扮演一台按剧本应答的ADB服务器
type script struct {
	t    *testing.T
	conn net.Conn
}

// startFake 启动假服务器并返回指向它的配置
// 返回的通道在剧本执行完毕后关闭
func startFake(t *testing.T, fn func(s *script)) (*Options, chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(&script{t: t, conn: conn})
	}()

	opts := &Options{
		Host:   "127.0.0.1",
		Port:   ln.Addr().(*net.TCPAddr).Port,
		Serial: "emulator-5554",
		Bin:    "/bin/true",
	}
	return opts, done
}

func (s *script) readN(n int) []byte {
	buf := make([]byte, n)
	_, err := io.ReadFull(s.conn, buf)
	assert.NoError(s.t, err)
	return buf
}

// expectCommand 读取一条带16进制长度前缀的host命令并校验
func (s *script) expectCommand(want string) {
	hexLen := string(s.readN(4))
	n, err := strconv.ParseInt(hexLen, 16, 32)
	assert.NoError(s.t, err)
	payload := string(s.readN(int(n)))
	assert.Equal(s.t, want, payload)
}

func (s *script) write(data string) {
	_, err := s.conn.Write([]byte(data))
	assert.NoError(s.t, err)
}

// writeValue 写入带16进制长度前缀的值
func (s *script) writeValue(v string) {
	s.write(fmt.Sprintf("%04x%s", len(v), v))
}

func (s *script) ok() {
	s.write(OKAY)
}

func (s *script) fail(msg string) {
	s.write(FAIL)
	s.writeValue(msg)
}

// acceptTransport 处理标准的传输选择握手
func (s *script) acceptTransport(serial string) {
	s.expectCommand("host:transport:" + serial)
	s.ok()
}

// acceptSync 处理sync:协商
func (s *script) acceptSync() {
	s.expectCommand("sync:")
	s.ok()
}

// expectSyncRequest 读取同步子协议请求（4字节标签+小端长度+参数）
func (s *script) expectSyncRequest(tag, arg string) {
	gotTag := string(s.readN(4))
	assert.Equal(s.t, tag, gotTag)
	length := binary.LittleEndian.Uint32(s.readN(4))
	payload := string(s.readN(int(length)))
	assert.Equal(s.t, arg, payload)
}

// writeSyncHeader 写入同步响应头
func (s *script) writeSyncHeader(tag string, length uint32) {
	buf := make([]byte, 8)
	copy(buf, tag)
	binary.LittleEndian.PutUint32(buf[4:], length)
	s.write(string(buf))
}

// writeDent 写入一条DENT记录
func (s *script) writeDent(mode, size, mtime uint32, name string) {
	buf := make([]byte, 20)
	copy(buf, DENT)
	binary.LittleEndian.PutUint32(buf[4:], mode)
	binary.LittleEndian.PutUint32(buf[8:], size)
	binary.LittleEndian.PutUint32(buf[12:], mtime)
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(name)))
	s.write(string(buf))
	s.write(name)
}
