package adb

import (
	"bytes"
	"crypto/md5"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// PublicKey 解析后的adbkey公钥
type PublicKey struct {
	*rsa.PublicKey
	Fingerprint string // MD5指纹（冒号分隔的16进制）
	Comment     string
}

// ParsePublicKey 解析adbkey.pub格式的公钥数据
// 格式为base64编码的二进制结构，后面可以跟空格和注释
func ParsePublicKey(data []byte) (*PublicKey, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("invalid public key: empty data")
	}

	// 分离base64数据和注释
	b64 := data
	comment := ""
	if idx := bytes.IndexByte(data, ' '); idx >= 0 {
		b64 = data[:idx]
		comment = strings.TrimSpace(string(data[idx+1:]))
	}

	keyData, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base64")
	}

	return parsePublicKeyStruct(keyData, comment)
}

// parsePublicKeyStruct 从二进制结构解析公钥
// 布局: len(u32) n0inv(u32) n[len]("little-endian") rr[len] exponent(u32)
func parsePublicKeyStruct(data []byte, comment string) (*PublicKey, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid public key")
	}

	words := binary.LittleEndian.Uint32(data)
	// 32位算术会回绕，先限定字数再算期望长度
	if words == 0 || words > 1024 {
		return nil, fmt.Errorf("invalid public key word count %d", words)
	}
	expectedLen := 4 + 4 + int(words)*4 + int(words)*4 + 4
	if len(data) != expectedLen {
		return nil, fmt.Errorf("invalid public key length %d, expected %d", len(data), expectedLen)
	}

	// 跳过n0inv
	offset := 8

	nBytes := make([]byte, words*4)
	copy(nBytes, data[offset:offset+int(words*4)])
	reverseBytes(nBytes)
	offset += int(words * 4)

	// 跳过RR
	offset += int(words * 4)

	e := binary.LittleEndian.Uint32(data[offset:])
	if e != 3 && e != 65537 {
		return nil, fmt.Errorf("invalid exponent %d, only 3 and 65537 are supported", e)
	}

	key := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e),
	}

	return &PublicKey{
		PublicKey:   key,
		Fingerprint: fingerprintMD5(data),
		Comment:     comment,
	}, nil
}

// PublicKeyToPem 渲染为PEM格式
func PublicKeyToPem(key *PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key.PublicKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal public key")
	}

	block := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}
	return string(pem.EncodeToMemory(block)), nil
}

// PublicKeyToOpenSSH 渲染为authorized_keys格式
func PublicKeyToOpenSSH(key *PublicKey, comment string) string {
	if comment == "" {
		comment = key.Comment
	}

	var blob bytes.Buffer
	writeSSHString(&blob, []byte("ssh-rsa"))
	writeSSHString(&blob, big.NewInt(int64(key.E)).Bytes())
	writeSSHMPInt(&blob, key.N)

	encoded := base64.StdEncoding.EncodeToString(blob.Bytes())
	if comment == "" {
		return "ssh-rsa " + encoded
	}
	return "ssh-rsa " + encoded + " " + comment
}

// writeSSHString 写入SSH线格式的长度前缀字段（大端32位）
func writeSSHString(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

// writeSSHMPInt 写入SSH的多精度整数，最高位为1时补零字节
func writeSSHMPInt(buf *bytes.Buffer, n *big.Int) {
	data := n.Bytes()
	if len(data) > 0 && data[0]&0x80 != 0 {
		data = append([]byte{0}, data...)
	}
	writeSSHString(buf, data)
}

// fingerprintMD5 计算冒号分隔的MD5指纹
func fingerprintMD5(data []byte) string {
	sum := md5.Sum(data)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// reverseBytes 反转字节序列
func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
