package chat

import (
	"hash/fnv"
	"sync"
)

type fanoutJob struct {
	conns []*WsConn
	frame []byte
}

// Fanout moves encoded frames onto connection queues off the bus goroutine.
// Jobs with the same key land on the same worker, so per-conversation order holds.
type Fanout struct {
	shards []chan fanoutJob
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{shards: make([]chan fanoutJob, workers)}
	for i := range f.shards {
		ch := make(chan fanoutJob, queue)
		f.shards[i] = ch
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for job := range ch {
				for _, c := range job.conns {
					c.enqueue(job.frame)
				}
			}
		}()
	}
	return f
}

// Broadcast blocks only when the key's worker queue is full.
func (f *Fanout) Broadcast(key string, conns []*WsConn, frame []byte) {
	if len(conns) == 0 || len(frame) == 0 {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	f.shards[h.Sum32()%uint32(len(f.shards))] <- fanoutJob{conns: conns, frame: frame}
}

// Close drains queued jobs and stops the workers.
func (f *Fanout) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		for _, ch := range f.shards {
			close(ch)
		}
	}
	f.mu.Unlock()
	f.wg.Wait()
}
