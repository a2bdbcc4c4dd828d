package model

import (
	"fmt"
	"time"
)

// LocalTime 在序列化为 JSON 时输出 "2006-01-02 15:04:05" 格式的本地时间，
// 供前端直接展示，不带时区后缀。
type LocalTime time.Time

const localTimeLayout = "2006-01-02 15:04:05"

// MarshalJSON 实现 json.Marshaler。
func (t LocalTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Time(t).Format(localTimeLayout))), nil
}
