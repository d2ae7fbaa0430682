package sync

// Entry 表示LIST响应中的一条DENT目录项
type Entry struct {
	Stats
	name string
}

// NewEntry 创建新的Entry实例
func NewEntry(name string, mode, size, mtime uint32) *Entry {
	return &Entry{
		Stats: *NewStats(mode, size, mtime),
		name:  name,
	}
}

// Name 获取文件名
func (e *Entry) Name() string {
	return e.name
}

// String 实现Stringer接口
func (e *Entry) String() string {
	return e.name
}
