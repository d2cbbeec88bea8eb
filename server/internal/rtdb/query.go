package rtdb

import (
	"fmt"
	"strings"
)

// Query 描述要观察的数据切片：路径、排序字段与首/尾 N 条限制。
type Query struct {
	Path string
	// OrderBy 为子节点字段名；为空时按 key 排序。
	OrderBy      string
	LimitToFirst int
	LimitToLast  int
}

// Validate 校验查询并返回规范化后的副本。
func (q Query) Validate() (Query, error) {
	p, err := CleanPath(q.Path)
	if err != nil {
		return q, err
	}
	q.Path = p
	if q.LimitToFirst < 0 || q.LimitToLast < 0 {
		return q, fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	if q.LimitToFirst > 0 && q.LimitToLast > 0 {
		return q, fmt.Errorf("%w: limitToFirst and limitToLast are mutually exclusive", ErrInvalidQuery)
	}
	if strings.ContainsAny(q.OrderBy, forbiddenChars+"/") {
		return q, fmt.Errorf("%w: orderBy %q", ErrInvalidQuery, q.OrderBy)
	}
	return q, nil
}

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Path)
	if q.OrderBy != "" {
		fmt.Fprintf(&b, " orderBy=%s", q.OrderBy)
	}
	if q.LimitToFirst > 0 {
		fmt.Fprintf(&b, " limitToFirst=%d", q.LimitToFirst)
	}
	if q.LimitToLast > 0 {
		fmt.Fprintf(&b, " limitToLast=%d", q.LimitToLast)
	}
	return b.String()
}
