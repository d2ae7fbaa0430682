package sync

import (
	"time"
)

// Stats 文件统计信息（同步子协议的12字节stat记录）
type Stats struct {
	mode  uint32    // 文件模式
	size  int64     // 文件大小
	mtime time.Time // 修改时间
}

// 文件类型常量
const (
	S_IFMT   = 0o170000 // 文件类型位掩码
	S_IFSOCK = 0o140000 // socket
	S_IFLNK  = 0o120000 // 符号链接
	S_IFREG  = 0o100000 // 普通文件
	S_IFBLK  = 0o060000 // 块设备
	S_IFDIR  = 0o040000 // 目录
	S_IFCHR  = 0o020000 // 字符设备
	S_IFIFO  = 0o010000 // FIFO
)

// NewStats 从线上的32位字段创建Stats
func NewStats(mode, size, mtime uint32) *Stats {
	return &Stats{
		mode:  mode,
		size:  int64(size),
		mtime: time.Unix(int64(mtime), 0),
	}
}

// Mode 获取文件模式
func (s *Stats) Mode() uint32 {
	return s.mode
}

// Size 获取文件大小
func (s *Stats) Size() int64 {
	return s.size
}

// ModTime 获取修改时间
func (s *Stats) ModTime() time.Time {
	return s.mtime
}

// IsRegular 判断是否为普通文件
func (s *Stats) IsRegular() bool {
	return (s.mode & S_IFMT) == S_IFREG
}

// IsDir 判断是否为目录
func (s *Stats) IsDir() bool {
	return (s.mode & S_IFMT) == S_IFDIR
}

// IsSymlink 判断是否为符号链接
func (s *Stats) IsSymlink() bool {
	return (s.mode & S_IFMT) == S_IFLNK
}

// Permissions 获取权限位
func (s *Stats) Permissions() uint32 {
	return s.mode & 0o777
}
