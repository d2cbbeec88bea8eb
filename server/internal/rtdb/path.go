package rtdb

import (
	"fmt"
	"strings"
)

const forbiddenChars = ".#$[]"

// CleanPath 规范化并校验层级路径：去掉首尾斜杠，段不能为空，且不能包含 . # $ [ ]。
func CleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if err := checkSegment(seg); err != nil {
			return "", fmt.Errorf("%w: %q", err, p)
		}
	}
	return p, nil
}

// checkKey 校验单个节点 key。
func checkKey(key string) error {
	if strings.Contains(key, "/") {
		return fmt.Errorf("%w: key %q contains '/'", ErrInvalidPath, key)
	}
	return checkSegment(key)
}

func checkSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	if strings.ContainsAny(seg, forbiddenChars) {
		return fmt.Errorf("%w: segment %q contains one of %q", ErrInvalidPath, seg, forbiddenChars)
	}
	return nil
}
