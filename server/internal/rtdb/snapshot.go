package rtdb

// Child 是快照中的一个子节点：存储分配的 key 与 JSON 对象值。
type Child struct {
	Key   string
	Value []byte
}

// Snapshot 是某个查询在某一时刻的完整视图，创建后不可变。
// 子节点按查询的原生顺序升序排列（limitToLast 也是升序）。
type Snapshot struct {
	path     string
	children []Child
}

// NewSnapshot 构造快照，children 会被复制。
func NewSnapshot(path string, children []Child) Snapshot {
	out := make([]Child, len(children))
	copy(out, children)
	return Snapshot{path: path, children: out}
}

func (s Snapshot) Path() string { return s.path }

// Exists 报告路径下是否有数据。
func (s Snapshot) Exists() bool { return len(s.children) > 0 }

func (s Snapshot) Len() int { return len(s.children) }

// Children 返回子节点副本。Value 字节由存储保证不会被原地修改，调用方不得修改。
func (s Snapshot) Children() []Child {
	out := make([]Child, len(s.children))
	copy(out, s.children)
	return out
}
