package speech

import "sync"

// Cancelable 可被强制终止的识别流。
type Cancelable interface {
	Cancel()
}

// StreamRegistry 保证每个连接最多只有一路识别流。
type StreamRegistry struct {
	mu      sync.Mutex
	streams map[string]Cancelable
}

// NewStreamRegistry 创建流注册表。
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[string]Cancelable)}
}

// Put 登记一路流；同一连接已有的流会先被取消。
func (r *StreamRegistry) Put(connID string, stream Cancelable) {
	r.mu.Lock()
	old, exists := r.streams[connID]
	r.streams[connID] = stream
	r.mu.Unlock()

	if exists && old != stream {
		old.Cancel()
	}
}

// Get 返回连接当前的流。
func (r *StreamRegistry) Get(connID string) (Cancelable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[connID]
	return stream, ok
}

// Remove 取消并移除连接的流。
func (r *StreamRegistry) Remove(connID string) {
	r.mu.Lock()
	stream, ok := r.streams[connID]
	delete(r.streams, connID)
	r.mu.Unlock()

	if ok {
		stream.Cancel()
	}
}

// Release 仅当登记的仍是 stream 时移除，不取消。流自然结束时调用。
func (r *StreamRegistry) Release(connID string, stream Cancelable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.streams[connID]; ok && current == stream {
		delete(r.streams, connID)
	}
}

// Len 返回活跃流数量。
func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CloseAll 取消全部流，服务关闭时调用。
func (r *StreamRegistry) CloseAll() {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[string]Cancelable)
	r.mu.Unlock()

	for _, stream := range streams {
		stream.Cancel()
	}
}
