package adb

import (
	"bytes"
	"encoding/binary"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adbsync "adb-host-go/pkg/adb/sync"
)

func TestList(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(LIST, "/sdcard")

		s.writeDent(0o100644, 42, 1700000000, "b")
		s.writeDent(0o040755, 0, 1700000000, ".")
		s.writeDent(0o100644, 7, 1700000000, "a")
		s.writeDent(0o040755, 0, 1700000000, "..")
		s.writeDent(0o100644, 0, 1700000000, "")
		s.writeSyncHeader(DONE, 0)
	})

	h := NewHost(opts, nil)
	names, err := h.List("/sdcard")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names, "filtered and sorted")

	<-done
	assert.Nil(t, h.conn)
}

func TestListEntries(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(LIST, "/data")

		s.writeDent(0o100600, 1234, 1700000000, "secret.txt")
		s.writeSyncHeader(DONE, 0)
	})

	h := NewHost(opts, nil)
	entries, err := h.Entries("/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "secret.txt", e.Name())
	assert.Equal(t, uint32(0o100600), e.Mode())
	assert.Equal(t, int64(1234), e.Size())
	assert.True(t, e.IsRegular())
	assert.False(t, e.IsDir())
	assert.Equal(t, time.Unix(1700000000, 0), e.ModTime())
	<-done
}

func TestListNonDentFirstTag(t *testing.T) {
	// 首个标签不是DENT时返回空列表而不是错误
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(LIST, "/nope")
		s.writeSyncHeader(FAIL, 0)
	})

	h := NewHost(opts, nil)
	names, err := h.List("/nope")
	require.NoError(t, err)
	assert.Empty(t, names)
	<-done
}

func TestSyncSessionSendsQuit(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(LIST, "/empty")
		s.writeSyncHeader(DONE, 0)

		// 命令体结束后客户端必须以QUIT结束会话
		s.expectSyncRequest(QUIT, "")
	})

	h := NewHost(opts, nil)
	names, err := h.List("/empty")
	require.NoError(t, err)
	assert.Empty(t, names)

	<-done
	assert.Nil(t, h.conn)
}

func TestSyncNegotiationFailAborts(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.expectCommand("sync:")
		s.fail("sync unsupported")

		// 协商失败后不得有任何同步请求
		buf := make([]byte, 1)
		_, err := s.conn.Read(buf)
		assert.Error(s.t, err)
	})

	h := NewHost(opts, nil)
	_, err := h.List("/sdcard")

	var fail *FailError
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, "sync unsupported", fail.Message)

	<-done
	assert.Nil(t, h.conn)
}

func TestWriteFile(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(SEND, "/data/local/tmp/x,493")

		// 观测到的命令体会把路径再发一遍作为数据开头
		path := string(s.readN(len("/data/local/tmp/x")))
		assert.Equal(s.t, "/data/local/tmp/x", path)

		s.write("write response")
	})

	h := NewHost(opts, nil)
	out, err := h.WriteFile("/data/local/tmp/x", 0)
	require.NoError(t, err)
	assert.Equal(t, "write response", string(out))

	<-done
	assert.Nil(t, h.conn)
}

func TestReadFile(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(RECV, "/etc/hosts")
		s.write("127.0.0.1 localhost\n")
	})

	h := NewHost(opts, nil)
	data, err := h.ReadFile("/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1 localhost\n", string(data))
	<-done
}

func TestStat(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(STAT, "/etc/hosts")

		buf := make([]byte, 16)
		copy(buf, STAT)
		binary.LittleEndian.PutUint32(buf[4:], 0o100644)
		binary.LittleEndian.PutUint32(buf[8:], 64)
		binary.LittleEndian.PutUint32(buf[12:], 1700000000)
		s.write(string(buf))
	})

	h := NewHost(opts, nil)
	stats, err := h.Stat("/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o100644), stats.Mode())
	assert.Equal(t, int64(64), stats.Size())
	assert.True(t, stats.IsRegular())
	<-done
}

func TestStatNotExist(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(STAT, "/missing")

		// 不存在的路径返回全零记录
		buf := make([]byte, 16)
		copy(buf, STAT)
		s.write(string(buf))
	})

	h := NewHost(opts, nil)
	_, err := h.Stat("/missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
	<-done
}

func TestPush(t *testing.T) {
	content := strings.Repeat("x", DataMaxLength+100) // 跨两个DATA块
	mtime := time.Unix(1700000000, 0)

	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(SEND, "/data/local/tmp/big,33188") // 0o644|S_IFREG

		var received bytes.Buffer
		for {
			tag := string(s.readN(4))
			length := binary.LittleEndian.Uint32(s.readN(4))
			if tag == DONE {
				assert.Equal(s.t, uint32(1700000000), length)
				break
			}
			assert.Equal(s.t, DATA, tag)
			received.Write(s.readN(int(length)))
		}
		assert.Equal(s.t, content, received.String())

		s.writeSyncHeader(OKAY, 0)
	})

	h := NewHost(opts, nil)
	err := h.Push(strings.NewReader(content), "/data/local/tmp/big", 0o644, mtime)
	require.NoError(t, err)

	<-done
	assert.Nil(t, h.conn)
}

func TestPushFail(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(SEND, "/readonly/x,33261") // 0o755|S_IFREG

		// 排干客户端发来的所有块
		for {
			tag := string(s.readN(4))
			length := binary.LittleEndian.Uint32(s.readN(4))
			if tag == DONE {
				break
			}
			s.readN(int(length))
		}

		s.write(FAIL)
		msg := "read-only file system"
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(msg)))
		s.write(string(lenBuf))
		s.write(msg)
	})

	h := NewHost(opts, nil)
	err := h.Push(strings.NewReader("data"), "/readonly/x", 0o755, time.Now())

	var fail *FailError
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, "read-only file system", fail.Message)
	<-done
}

func TestPull(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(RECV, "/etc/hosts")

		s.writeSyncHeader(DATA, 6)
		s.write("127.0.")
		s.writeSyncHeader(DATA, 4)
		s.write("0.1\n")
		s.writeSyncHeader(DONE, 1700000000)
	})

	h := NewHost(opts, nil)
	var sink bytes.Buffer
	n, err := h.Pull("/etc/hosts", &sink)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, "127.0.0.1\n", sink.String())

	<-done
	assert.Nil(t, h.conn)
}

func TestPullUnexpectedTag(t *testing.T) {
	opts, done := startFake(t, func(s *script) {
		s.acceptTransport("emulator-5554")
		s.acceptSync()
		s.expectSyncRequest(RECV, "/etc/hosts")
		s.writeSyncHeader(DENT, 0)
	})

	h := NewHost(opts, nil)
	var sink bytes.Buffer
	_, err := h.Pull("/etc/hosts", &sink)

	var unexpected *UnexpectedDataError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, DENT, unexpected.Unexpected)
	<-done
}

func TestTempFile(t *testing.T) {
	assert.Equal(t, "/data/local/tmp/app.apk", TempFile("/home/user/app.apk"))
	assert.Equal(t, "/data/local/tmp/plain", TempFile("plain"))
}

func TestEntrySubpackage(t *testing.T) {
	e := adbsync.NewEntry("x", 0o040755, 0, 1700000000)
	assert.True(t, e.IsDir())
	assert.Equal(t, uint32(0o755), e.Permissions())
	assert.Equal(t, "x", e.String())
}
