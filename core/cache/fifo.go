package cache

import (
	"container/list"
	"time"
)

type FIFOOpts struct {
	Size int
}

// FIFO is a size-bounded cache that evicts the oldest inserted entry first.
// Reads never reorder entries, which keeps eviction predictable for
// short-lived result caches. Safe for concurrent use.
type FIFO struct {
	getCh    chan getReq
	putCh    chan putReq
	deleteCh chan string
	closeCh  chan struct{}
}

func NewFIFO(opts FIFOOpts) *FIFO {
	if opts.Size <= 0 {
		opts.Size = 128
	}

	f := &FIFO{
		getCh:    make(chan getReq),
		putCh:    make(chan putReq),
		deleteCh: make(chan string),
		closeCh:  make(chan struct{}),
	}

	go f.run(opts.Size)

	return f
}

func (f *FIFO) Get(key string) (any, bool) {
	resp := make(chan getResp)
	select {
	case f.getCh <- getReq{key: key, resp: resp}:
		r := <-resp
		return r.val, r.ok
	case <-f.closeCh:
		return nil, false
	}
}

func (f *FIFO) Put(key string, val any, opts ...PutOption) {
	select {
	case f.putCh <- putReq{key: key, val: val, opts: opts}:
	case <-f.closeCh:
	}
}

func (f *FIFO) Delete(key string) {
	select {
	case f.deleteCh <- key:
	case <-f.closeCh:
	}
}

// Close stops the background goroutine. Subsequent operations are no-ops.
func (f *FIFO) Close() {
	select {
	case <-f.closeCh:
	default:
		close(f.closeCh)
	}
}

func (f *FIFO) run(size int) {
	ll := list.New()
	cache := make(map[string]*list.Element)

	for {
		select {
		case <-f.closeCh:
			return
		case req := <-f.getCh:
			ele, ok := cache[req.key]
			if !ok {
				req.resp <- getResp{ok: false}
				continue
			}
			ent := ele.Value.(*entry)
			if ent.expired(time.Now()) {
				ll.Remove(ele)
				delete(cache, req.key)
				req.resp <- getResp{ok: false}
				continue
			}
			req.resp <- getResp{val: ent.val, ok: true}
		case req := <-f.putCh:
			po := PutOptions{}
			for _, o := range req.opts {
				o(&po)
			}
			var expiresAt time.Time
			if po.TTL > 0 {
				expiresAt = time.Now().Add(po.TTL)
			}
			if ele, ok := cache[req.key]; ok {
				ent := ele.Value.(*entry)
				ent.val = req.val
				ent.expiresAt = expiresAt
			} else {
				ele := ll.PushFront(&entry{key: req.key, val: req.val, expiresAt: expiresAt})
				cache[req.key] = ele
				if ll.Len() > size {
					last := ll.Back()
					if last != nil {
						ll.Remove(last)
						delete(cache, last.Value.(*entry).key)
					}
				}
			}
		case key := <-f.deleteCh:
			if ele, ok := cache[key]; ok {
				ll.Remove(ele)
				delete(cache, key)
			}
		}
	}
}

var _ Cache = (*FIFO)(nil)
