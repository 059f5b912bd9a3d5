package ids

import (
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// Node 雪花ID生成器，每个网关节点一个 nodeID（0~1023）
type Node struct {
	mu     sync.Mutex
	nodeID int64
	seq    int64
	lastMS int64
}

func NewNode(nodeID int64) *Node {
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	return &Node{nodeID: nodeID}
}

func (n *Node) ID() int64 { return n.nodeID }

func (n *Node) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.lastMS {
		// 时钟回拨：沿用上一毫秒继续分配
		now = n.lastMS
	}
	if now == n.lastMS {
		n.seq = (n.seq + 1) & seqMask
		if n.seq == 0 {
			for now <= n.lastMS {
				time.Sleep(100 * time.Microsecond)
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.seq = 0
	}
	n.lastMS = now
	return (now-epoch)<<(nodeBits+seqBits) | n.nodeID<<seqBits | n.seq
}

var (
	defaultMu   sync.RWMutex
	defaultNode = NewNode(1)
)

// SetNodeID 在 main() 初始化时调用
func SetNodeID(nodeID int64) {
	defaultMu.Lock()
	defaultNode = NewNode(nodeID)
	defaultMu.Unlock()
}

func NodeID() int64 {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultNode.ID()
}

func Generate() int64 {
	defaultMu.RLock()
	n := defaultNode
	defaultMu.RUnlock()
	return n.Next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}
