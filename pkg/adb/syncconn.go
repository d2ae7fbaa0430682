package adb

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"time"

	"go.uber.org/zap"

	adbsync "adb-host-go/pkg/adb/sync"
)

// 同步传输常量
const (
	TempPath      = "/data/local/tmp"
	DefaultChmod  = 0o644
	DefaultPush   = 0o755
	DataMaxLength = 65536
)

// TempFile 生成设备上的临时文件路径
func TempFile(name string) string {
	return path.Join(TempPath, path.Base(name))
}

// SyncConn 同步子协议会话
// 只在sync:命令已经返回OKAY的传输作用域连接上工作
type SyncConn struct {
	conn   *Connection
	parser *Parser
	proto  *Protocol
	logger *zap.Logger
}

// syncOp 选择传输、协商sync:并执行命令体
func (h *Host) syncOp(fn func(s *SyncConn) error) error {
	return h.withTransport("", func(conn *Connection) error {
		status, err := conn.SendCommand("sync:")
		if err != nil {
			return err
		}

		switch status {
		case OKAY:
			s := &SyncConn{
				conn:   conn,
				parser: conn.GetParser(),
				proto:  conn.proto,
				logger: h.logger,
			}
			err := fn(s)
			// 结束会话前尽力发送QUIT；对端可能已经断开，失败不影响结果
			_ = s.Quit()
			return err
		case FAIL:
			failErr := conn.ReadError()
			h.logger.Warn("sync negotiation failed", zap.Error(failErr))
			return failErr
		default:
			return conn.GetParser().Unexpected([]byte(status), "OKAY or FAIL")
		}
	})
}

// List 枚举远端目录，返回排序后的文件名
// 空名、"."和".."被过滤掉
func (h *Host) List(path string) ([]string, error) {
	entries, err := h.Entries(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// Entries 枚举远端目录，返回完整的DENT记录
func (h *Host) Entries(path string) ([]*adbsync.Entry, error) {
	var entries []*adbsync.Entry
	err := h.syncOp(func(s *SyncConn) error {
		list, err := s.List(path)
		if err != nil {
			return err
		}
		entries = list
		return nil
	})
	return entries, err
}

// List 执行LIST请求并收集DENT记录
func (s *SyncConn) List(path string) ([]*adbsync.Entry, error) {
	if err := s.sendRequest(LIST, path); err != nil {
		return nil, err
	}

	entries := make([]*adbsync.Entry, 0)
	for {
		tag, err := s.parser.ReadAscii(4)
		if err != nil {
			return nil, err
		}

		// 任何非DENT标签都结束枚举，不视为错误
		if tag != DENT {
			break
		}

		mode, err := s.parser.ReadUint32()
		if err != nil {
			return nil, err
		}
		size, err := s.parser.ReadUint32()
		if err != nil {
			return nil, err
		}
		mtime, err := s.parser.ReadUint32()
		if err != nil {
			return nil, err
		}
		nameLen, err := s.parser.ReadUint32()
		if err != nil {
			return nil, err
		}
		name, err := s.parser.ReadAscii(int(nameLen))
		if err != nil {
			return nil, err
		}

		// 跳过当前目录和父目录
		if name == "" || name == "." || name == ".." {
			continue
		}

		entries = append(entries, adbsync.NewEntry(name, mode, size, mtime))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

// WriteFile 发送SEND头和路径字节并排干响应
// 这是观测到的最小命令体；完整的分块上传见Push
func (h *Host) WriteFile(path string, mode uint32) ([]byte, error) {
	if mode == 0 {
		mode = DefaultPush
	}

	var out []byte
	err := h.syncOp(func(s *SyncConn) error {
		if err := s.sendRequest(SEND, fmt.Sprintf("%s,%d", path, mode)); err != nil {
			return err
		}
		if _, err := s.conn.Write([]byte(path)); err != nil {
			return err
		}

		data, err := s.parser.ReadAll()
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

// ReadFile 发送RECV请求并把剩余通道数据作为文件内容返回
func (h *Host) ReadFile(path string) ([]byte, error) {
	var out []byte
	err := h.syncOp(func(s *SyncConn) error {
		if err := s.sendRequest(RECV, path); err != nil {
			return err
		}

		data, err := s.parser.ReadAll()
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

// Stat 获取远端文件状态
func (h *Host) Stat(path string) (*adbsync.Stats, error) {
	var stats *adbsync.Stats
	err := h.syncOp(func(s *SyncConn) error {
		st, err := s.Stat(path)
		if err != nil {
			return err
		}
		stats = st
		return nil
	})
	return stats, err
}

// Stat 执行STAT请求
func (s *SyncConn) Stat(path string) (*adbsync.Stats, error) {
	if err := s.sendRequest(STAT, path); err != nil {
		return nil, err
	}

	reply, err := s.parser.ReadAscii(4)
	if err != nil {
		return nil, err
	}

	switch reply {
	case STAT:
		mode, err := s.parser.ReadUint32()
		if err != nil {
			return nil, err
		}
		size, err := s.parser.ReadUint32()
		if err != nil {
			return nil, err
		}
		mtime, err := s.parser.ReadUint32()
		if err != nil {
			return nil, err
		}

		// 服务器对不存在的路径返回全零记录
		if mode == 0 {
			return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
		}
		return adbsync.NewStats(mode, size, mtime), nil

	case FAIL:
		return nil, s.readError()

	default:
		return nil, s.parser.Unexpected([]byte(reply), "STAT or FAIL")
	}
}

// Push 按官方同步协议分块上传文件内容
func (h *Host) Push(src io.Reader, destPath string, mode os.FileMode, mtime time.Time) error {
	if mode == 0 {
		mode = DefaultChmod
	}
	if mtime.IsZero() {
		mtime = time.Now()
	}

	return h.syncOp(func(s *SyncConn) error {
		return s.Push(src, destPath, mode, mtime)
	})
}

// PushFile 上传本地文件
func (h *Host) PushFile(srcPath, destPath string, mode os.FileMode) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer file.Close()

	mtime := time.Now()
	if info, err := file.Stat(); err == nil {
		mtime = info.ModTime()
		if mode == 0 {
			mode = info.Mode().Perm()
		}
	}

	return h.Push(file, destPath, mode, mtime)
}

// Push 执行SEND+DATA...DONE上传
func (s *SyncConn) Push(src io.Reader, destPath string, mode os.FileMode, mtime time.Time) error {
	wireMode := uint32(mode.Perm()) | adbsync.S_IFREG
	if err := s.sendRequest(SEND, fmt.Sprintf("%s,%d", destPath, wireMode)); err != nil {
		return err
	}

	var sent int64
	buffer := make([]byte, DataMaxLength)
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			if err := s.sendLength(DATA, uint32(n)); err != nil {
				return err
			}
			if _, err := s.conn.Write(buffer[:n]); err != nil {
				return err
			}
			sent += int64(n)
			s.logger.Debug("push progress",
				zap.String("path", destPath), zap.Int64("bytes", sent))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	if err := s.sendLength(DONE, uint32(mtime.Unix())); err != nil {
		return err
	}

	reply, err := s.parser.ReadAscii(4)
	if err != nil {
		return err
	}

	switch reply {
	case OKAY:
		// DONE的确认带一个无意义的长度字段
		if _, err := s.parser.ReadUint32(); err != nil {
			return err
		}
		return nil
	case FAIL:
		return s.readError()
	default:
		return s.parser.Unexpected([]byte(reply), "OKAY or FAIL")
	}
}

// Pull 按官方同步协议分块下载文件内容
func (h *Host) Pull(path string, dst io.Writer) (int64, error) {
	var written int64
	err := h.syncOp(func(s *SyncConn) error {
		n, err := s.Pull(path, dst)
		written = n
		return err
	})
	return written, err
}

// PullFile 下载远端文件到本地
func (h *Host) PullFile(remotePath, localPath string) (int64, error) {
	file, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	return h.Pull(remotePath, file)
}

// Pull 执行RECV并解析DATA/DONE记录流
func (s *SyncConn) Pull(path string, dst io.Writer) (int64, error) {
	if err := s.sendRequest(RECV, path); err != nil {
		return 0, err
	}

	var written int64
	for {
		tag, err := s.parser.ReadAscii(4)
		if err != nil {
			return written, err
		}

		switch tag {
		case DATA:
			length, err := s.parser.ReadUint32()
			if err != nil {
				return written, err
			}
			if err := s.parser.ReadByteFlow(int(length), dst); err != nil {
				return written, err
			}
			written += int64(length)
			s.logger.Debug("pull progress",
				zap.String("path", path), zap.Int64("bytes", written))

		case DONE:
			// DONE带一个时间戳字段
			if _, err := s.parser.ReadUint32(); err != nil {
				return written, err
			}
			return written, nil

		case FAIL:
			return written, s.readError()

		default:
			return written, s.parser.Unexpected([]byte(tag), "DATA, DONE or FAIL")
		}
	}
}

// Quit 结束同步会话
func (s *SyncConn) Quit() error {
	return s.sendLength(QUIT, 0)
}

// readError 读取FAIL后的错误信息（同步层的长度字段是小端32位）
func (s *SyncConn) readError() error {
	length, err := s.parser.ReadUint32()
	if err != nil {
		return err
	}
	msg, err := s.parser.ReadBytes(int(length))
	if err != nil {
		return err
	}
	return &FailError{Message: string(msg)}
}

func (s *SyncConn) sendRequest(cmd, arg string) error {
	_, err := s.conn.Write(s.proto.FormatSyncRequest(cmd, arg))
	return err
}

func (s *SyncConn) sendLength(cmd string, length uint32) error {
	_, err := s.conn.Write(s.proto.FormatSync(cmd, length))
	return err
}
