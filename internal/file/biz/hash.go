package biz

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// hashChunkSize 分块读取大小，避免大文件一次性载入内存
const hashChunkSize = 8 * 1024

// HashReader 流式计算内容的 SHA-256（十六进制小写），
// 计算完成后把流重置到起始位置，供后续写入对象存储复用。
func HashReader(r io.ReadSeeker) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrHashFailed, err)
		}
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: rewind: %v", ErrHashFailed, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
