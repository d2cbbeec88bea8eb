package rtdb

import (
	"path"
	"strings"
)

// Rules 是按路径模式拒绝读写的简单规则集。
// 模式按段匹配："*" 匹配单段（支持 path.Match 通配），"**" 匹配剩余任意段。
type Rules struct {
	DenyRead  []string `yaml:"deny_read"`
	DenyWrite []string `yaml:"deny_write"`
}

func (r Rules) CanRead(p string) bool  { return !matchAny(r.DenyRead, p) }
func (r Rules) CanWrite(p string) bool { return !matchAny(r.DenyWrite, p) }

func matchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, p string) bool {
	pat := strings.Split(strings.Trim(pattern, "/"), "/")
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, ps := range pat {
		if ps == "**" {
			return true
		}
		if i >= len(segs) {
			return false
		}
		ok, err := path.Match(ps, segs[i])
		if err != nil || !ok {
			return false
		}
	}
	return len(pat) == len(segs)
}
