package partition

import (
	"crypto/rand"
	"strings"
	"time"

	apperrors "github.com/koopa0/system-design/14-rhythm-session/pkg/errors"
)

// 加入碼：6 個字元，每個字元是 codeChars 中的一個（36 進位）
const (
	codeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength = 6
)

// FormatCode 房間代碼轉成加入碼
func FormatCode(code uint32) string {
	var b [codeLength]byte
	for i := codeLength - 1; i >= 0; i-- {
		b[i] = codeChars[code%uint32(len(codeChars))]
		code /= uint32(len(codeChars))
	}
	return string(b[:])
}

// ParseCode 加入碼轉成房間代碼（不分大小寫）
func ParseCode(s string) (uint32, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != codeLength {
		return 0, apperrors.ErrRoomNotFound.WithDetails("invalid join code " + s)
	}
	var code uint32
	for i := 0; i < len(s); i++ {
		d := strings.IndexByte(codeChars, s[i])
		if d < 0 {
			return 0, apperrors.ErrRoomNotFound.WithDetails("invalid join code " + s)
		}
		code = code*uint32(len(codeChars)) + uint32(d)
	}
	return code, nil
}

// generateJoinCode 生成簡短的加入碼
func generateJoinCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeChars[randInt(len(codeChars))]
	}
	return string(b)
}

// randInt 生成隨機數
func randInt(max int) int {
	b := make([]byte, 1)
	if _, err := rand.Read(b); err != nil {
		// 如果隨機讀取失敗，使用時間作為隨機源
		return int(time.Now().UnixNano()) % max
	}
	return int(b[0]) % max
}
