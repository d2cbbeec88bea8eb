package rtdb

import (
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// 值类型的原生排序等级：缺失/null < false < true < 数字 < 字符串 < 对象。
const (
	rankNull = iota
	rankFalse
	rankTrue
	rankNumber
	rankString
	rankObject
)

type sortKey struct {
	rank int
	num  float64
	str  string
}

func sortKeyOf(value []byte, field string) sortKey {
	if field == "" {
		return sortKey{rank: rankNull}
	}
	var fields map[string]any
	if err := json.Unmarshal(value, &fields); err != nil {
		return sortKey{rank: rankNull}
	}
	switch v := fields[field].(type) {
	case nil:
		return sortKey{rank: rankNull}
	case bool:
		if v {
			return sortKey{rank: rankTrue}
		}
		return sortKey{rank: rankFalse}
	case float64:
		return sortKey{rank: rankNumber, num: v}
	case string:
		return sortKey{rank: rankString, str: v}
	default:
		return sortKey{rank: rankObject}
	}
}

func compareSortKeys(a, b sortKey) int {
	if a.rank != b.rank {
		return a.rank - b.rank
	}
	switch a.rank {
	case rankNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
	case rankString:
		return strings.Compare(a.str, b.str)
	}
	return 0
}

// applyQuery 按查询的原生顺序排序并截取首/尾 N 条，结果始终升序。
func applyQuery(children []Child, q Query) []Child {
	keys := make([]sortKey, len(children))
	for i, c := range children {
		keys[i] = sortKeyOf(c.Value, q.OrderBy)
	}
	idx := make([]int, len(children))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		if c := compareSortKeys(keys[a], keys[b]); c != 0 {
			return c < 0
		}
		return children[a].Key < children[b].Key
	})

	ordered := make([]Child, len(children))
	for i, k := range idx {
		ordered[i] = children[k]
	}

	switch {
	case q.LimitToFirst > 0 && len(ordered) > q.LimitToFirst:
		ordered = ordered[:q.LimitToFirst]
	case q.LimitToLast > 0 && len(ordered) > q.LimitToLast:
		ordered = ordered[len(ordered)-q.LimitToLast:]
	}
	return ordered
}
