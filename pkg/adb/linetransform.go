package adb

import (
	"bytes"
	"io"
)

// LineTransform 撤销旧版shell传输对输出做的\n到\r\n转换
type LineTransform struct {
	savedR bool
}

// NewLineTransform 创建新的行转换器
func NewLineTransform() *LineTransform {
	return &LineTransform{}
}

// Transform 转换一块数据，跨块的\r\n由savedR衔接
func (lt *LineTransform) Transform(chunk []byte) []byte {
	if len(chunk) == 0 {
		return chunk
	}

	var result bytes.Buffer

	// 处理上一块末尾保存的\r
	if lt.savedR {
		if chunk[0] != 0x0a {
			result.WriteByte(0x0d)
		}
		lt.savedR = false
	}

	lo, hi := 0, 0
	last := len(chunk) - 1
	for hi <= last {
		if chunk[hi] == 0x0d {
			if hi == last {
				lt.savedR = true
				break
			}
			if chunk[hi+1] == 0x0a {
				// \r\n只保留\n
				result.Write(chunk[lo:hi])
				lo = hi + 1
			}
		}
		hi++
	}

	if hi > lo {
		result.Write(chunk[lo:hi])
	}

	return result.Bytes()
}

// Flush 取出末尾可能悬挂的\r
func (lt *LineTransform) Flush() []byte {
	if lt.savedR {
		lt.savedR = false
		return []byte{0x0d}
	}
	return nil
}

// TransformReader 包装Reader以实现行转换
type TransformReader struct {
	reader    io.Reader
	transform *LineTransform
	buffer    []byte
	pending   []byte
	eof       bool
}

// NewTransformReader 创建新的转换Reader
func NewTransformReader(reader io.Reader) *TransformReader {
	return &TransformReader{
		reader:    reader,
		transform: NewLineTransform(),
		buffer:    make([]byte, 4096),
	}
}

// Read 实现io.Reader接口
func (tr *TransformReader) Read(p []byte) (int, error) {
	for len(tr.pending) == 0 {
		if tr.eof {
			return 0, io.EOF
		}

		n, err := tr.reader.Read(tr.buffer)
		if n > 0 {
			tr.pending = tr.transform.Transform(tr.buffer[:n])
		}
		if err == io.EOF {
			tr.eof = true
			tr.pending = append(tr.pending, tr.transform.Flush()...)
			break
		}
		if err != nil {
			return 0, err
		}
	}

	n := copy(p, tr.pending)
	tr.pending = tr.pending[n:]
	if len(tr.pending) == 0 && tr.eof {
		return n, io.EOF
	}
	return n, nil
}
