package schema

import (
	"errors"
	"io"
	"sync"
)

// ========================================
// 公开 API
// ========================================

// ErrNoValue 在 StreamReaderWithConvert 的转换函数中返回时，跳过当前数据项。
//
// 示例：
//
//	out := schema.StreamReaderWithConvert(sr, func(o *ModelOutput) (string, error) {
//		if o.Text == "" {
//			return "", schema.ErrNoValue
//		}
//		return o.Text, nil
//	})
var ErrNoValue = errors.New("no value")

// ErrRecvAfterClosed 表示流读取器关闭后仍调用了 Recv。
var ErrRecvAfterClosed = errors.New("recv after stream closed")

// Pipe 创建指定容量的流，返回读取器与写入器。
//
// 示例:
//
//	sr, sw := schema.Pipe[string](3)
//	go func() {
//		defer sw.Close()
//		for _, s := range []string{"a", "b"} {
//			sw.Send(s, nil)
//		}
//	}()
//
//	defer sr.Close()
//	for {
//		chunk, err := sr.Recv()
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		fmt.Println(chunk)
//	}
func Pipe[T any](cap int) (*StreamReader[T], *StreamWriter[T]) {
	st := &stream[T]{
		items:  make(chan streamItem[T], cap),
		closed: make(chan struct{}),
	}
	return &StreamReader[T]{r: st}, &StreamWriter[T]{st: st}
}

// StreamReaderFromArray 从数组创建流读取器，无需关闭。
func StreamReaderFromArray[T any](arr []T) *StreamReader[T] {
	return &StreamReader[T]{r: &arrayReader[T]{arr: arr}}
}

// StreamReaderWithConvert 将流读取器转换为另一种元素类型的流读取器。
// 关闭转换后的读取器会关闭原读取器。
func StreamReaderWithConvert[T, D any](sr *StreamReader[T], convert func(T) (D, error)) *StreamReader[D] {
	return &StreamReader[D]{r: &convertReader[T, D]{src: sr, convert: convert}}
}

// MergeStreamReaders 合并多个流读取器，元素按到达顺序交错输出。
// 所有源读取器均结束后返回 io.EOF。
func MergeStreamReaders[T any](srs []*StreamReader[T]) *StreamReader[T] {
	switch len(srs) {
	case 0:
		return nil
	case 1:
		return srs[0]
	}

	out, sw := Pipe[T](len(srs))
	var wg sync.WaitGroup
	wg.Add(len(srs))
	for _, sr := range srs {
		go func(sr *StreamReader[T]) {
			defer wg.Done()
			defer sr.Close()
			for {
				chunk, err := sr.Recv()
				if errors.Is(err, io.EOF) {
					return
				}
				if closed := sw.Send(chunk, err); closed {
					return
				}
			}
		}(sr)
	}
	go func() {
		wg.Wait()
		sw.Close()
	}()
	return out
}

// ConcatStream 读取流直到结束，使用 merge 累积所有数据项。
// merge 为 nil 时返回最后一个数据项。读取器在返回前关闭。
func ConcatStream[T any](sr *StreamReader[T], merge func(acc, next T) T) (T, error) {
	defer sr.Close()

	var acc T
	first := true
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return acc, err
		}
		if first || merge == nil {
			acc, first = chunk, false
			continue
		}
		acc = merge(acc, chunk)
	}
	if first {
		return acc, io.EOF
	}
	return acc, nil
}

// ========================================
// StreamReader / StreamWriter
// ========================================

// reader 流读取器的底层实现。
type reader[T any] interface {
	recv() (T, error)
	close()
}

// StreamReader 流数据接收器，由 Pipe 等函数创建。
// 通过 Recv 读取数据，读取完毕返回 io.EOF；使用方负责调用 Close。
type StreamReader[T any] struct {
	r reader[T]
}

// Recv 接收下一个数据项。
func (sr *StreamReader[T]) Recv() (T, error) {
	return sr.r.recv()
}

// Close 关闭读取器，通知写入方停止发送。可重复调用。
func (sr *StreamReader[T]) Close() {
	sr.r.close()
}

// Copy 将读取器复制为 n 个相互独立的读取器，每个副本都能读到全部数据。
// 复制后原读取器不可再使用；所有副本关闭后原读取器关闭。
func (sr *StreamReader[T]) Copy(n int) []*StreamReader[T] {
	if n < 2 {
		return []*StreamReader[T]{sr}
	}

	if ar, ok := sr.r.(*arrayReader[T]); ok {
		ret := make([]*StreamReader[T], n)
		for i := range ret {
			ret[i] = &StreamReader[T]{r: &arrayReader[T]{arr: ar.arr, index: ar.index}}
		}
		return ret
	}

	p := newTeeParent(sr, n)
	ret := make([]*StreamReader[T], n)
	for i := range ret {
		ret[i] = &StreamReader[T]{r: &teeChild[T]{parent: p, id: i}}
	}
	return ret
}

// StreamWriter 流数据发送器，由 Pipe 创建。
type StreamWriter[T any] struct {
	st *stream[T]
}

// Send 发送数据项，返回值表示读取方是否已关闭。
func (sw *StreamWriter[T]) Send(chunk T, err error) (closed bool) {
	return sw.st.send(chunk, err)
}

// Close 关闭发送端，读取方随后收到 io.EOF。
func (sw *StreamWriter[T]) Close() {
	sw.st.closeSend()
}

// ========================================
// 内部实现
// ========================================

// streamItem 流中的数据项。
type streamItem[T any] struct {
	chunk T
	err   error
}

// stream 基于 channel 的流，一个发送者一个接收者。
type stream[T any] struct {
	items     chan streamItem[T]
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *stream[T]) recv() (T, error) {
	select {
	case <-s.closed:
		var t T
		return t, ErrRecvAfterClosed
	default:
	}

	item, ok := <-s.items
	if !ok {
		var t T
		return t, io.EOF
	}
	return item.chunk, item.err
}

func (s *stream[T]) send(chunk T, err error) bool {
	select {
	case <-s.closed:
		return true
	default:
	}

	select {
	case <-s.closed:
		return true
	case s.items <- streamItem[T]{chunk, err}:
		return false
	}
}

func (s *stream[T]) closeSend() {
	close(s.items)
}

func (s *stream[T]) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// arrayReader 顺序读取数组元素。
type arrayReader[T any] struct {
	arr   []T
	index int
}

func (ar *arrayReader[T]) recv() (T, error) {
	if ar.index < len(ar.arr) {
		ret := ar.arr[ar.index]
		ar.index++
		return ret, nil
	}
	var t T
	return t, io.EOF
}

func (ar *arrayReader[T]) close() {}

// convertReader 逐项转换源流，ErrNoValue 表示跳过。
type convertReader[T, D any] struct {
	src     *StreamReader[T]
	convert func(T) (D, error)
}

func (c *convertReader[T, D]) recv() (D, error) {
	for {
		in, err := c.src.Recv()
		if err != nil {
			var d D
			return d, err
		}
		out, err := c.convert(in)
		if errors.Is(err, ErrNoValue) {
			continue
		}
		return out, err
	}
}

func (c *convertReader[T, D]) close() {
	c.src.Close()
}

// teeParent 被多个副本共享的源流。items 只缓存尚有副本未读的数据项，
// items[0] 的全局序号为 base。
type teeParent[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	src      *StreamReader[T]
	items    []streamItem[T]
	base     int
	pos      []int // 各副本下一个要读的全局序号，-1 表示已关闭
	fetching bool
	done     bool
	open     int
}

func newTeeParent[T any](src *StreamReader[T], n int) *teeParent[T] {
	p := &teeParent[T]{src: src, pos: make([]int, n), open: n}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// next 返回副本 id 的下一个数据项。同一时刻只有一个副本从源流读取，
// 读取期间不持有锁，其余副本等待结果。
func (p *teeParent[T]) next(id int) (streamItem[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		i := p.pos[id]
		if i < p.base+len(p.items) {
			item := p.items[i-p.base]
			p.pos[id]++
			p.trim()
			return item, true
		}
		if p.done {
			return streamItem[T]{}, false
		}
		if p.fetching {
			p.cond.Wait()
			continue
		}

		p.fetching = true
		p.mu.Unlock()
		chunk, err := p.src.Recv()
		p.mu.Lock()
		p.fetching = false
		if errors.Is(err, io.EOF) {
			p.done = true
		} else {
			p.items = append(p.items, streamItem[T]{chunk, err})
		}
		p.cond.Broadcast()
	}
}

// trim 丢弃所有未关闭副本都已读过的数据项。
func (p *teeParent[T]) trim() {
	low := -1
	for _, i := range p.pos {
		if i >= 0 && (low < 0 || i < low) {
			low = i
		}
	}
	if low < 0 {
		low = p.base + len(p.items)
	}
	if n := low - p.base; n > 0 {
		clear(p.items[:n])
		p.items = p.items[n:]
		p.base = low
	}
}

func (p *teeParent[T]) release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pos[id] = -1
	p.trim()
	p.open--
	if p.open == 0 {
		p.src.Close()
	}
}

// teeChild 源流的一个独立副本。
type teeChild[T any] struct {
	parent *teeParent[T]
	id     int
	closed bool
}

func (c *teeChild[T]) recv() (T, error) {
	if c.closed {
		var t T
		return t, ErrRecvAfterClosed
	}
	item, ok := c.parent.next(c.id)
	if !ok {
		var t T
		return t, io.EOF
	}
	return item.chunk, item.err
}

func (c *teeChild[T]) close() {
	if c.closed {
		return
	}
	c.closed = true
	c.parent.release(c.id)
}
