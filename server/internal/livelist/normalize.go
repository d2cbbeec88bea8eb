package livelist

import (
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	"rugrow/server/internal/rtdb"
)

// Record 约束可被归一化的记录类型：*T 需要能接收存储分配的 key 作为 ID。
type Record[T any] interface {
	*T
	SetID(id string)
}

// Normalize 把存储快照转换成有序视图：
//  1. 路径下无数据时返回空切片（不是 nil）；
//  2. 每个子节点解码为一条记录，key 作为记录 ID；
//  3. 结果长度不超过配置的 limit；
//  4. limitToLast 查询按升序返回，这里反转为"最新在前"。
func Normalize[T any, PT Record[T]](snap rtdb.Snapshot, opts Options) ([]T, error) {
	if !snap.Exists() {
		return []T{}, nil
	}

	children := snap.Children()
	switch n := len(children); {
	case opts.LimitToFirst > 0 && n > opts.LimitToFirst:
		children = children[:opts.LimitToFirst]
	case opts.LimitToLast > 0 && n > opts.LimitToLast:
		children = children[n-opts.LimitToLast:]
	}

	out := make([]T, 0, len(children))
	for _, c := range children {
		var rec T
		if err := json.Unmarshal(c.Value, PT(&rec)); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", snap.Path(), c.Key, err)
		}
		PT(&rec).SetID(c.Key)
		out = append(out, rec)
	}

	if opts.LimitToLast > 0 {
		slices.Reverse(out)
	}
	return out, nil
}
