package cache

import (
	"container/list"
	"time"
)

type LRUOpts struct {
	Size int
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type getReq struct {
	key  string
	resp chan getResp
}

type getResp struct {
	val any
	ok  bool
}

type putReq struct {
	key  string
	val  any
	opts []PutOption
}

type LRU struct {
	getCh    chan getReq
	putCh    chan putReq
	deleteCh chan string
	closeCh  chan struct{}
}

func (L *LRU) Get(key string) (any, bool) {
	resp := make(chan getResp)
	select {
	case L.getCh <- getReq{key: key, resp: resp}:
		r := <-resp
		return r.val, r.ok
	case <-L.closeCh:
		return nil, false
	}
}

func (L *LRU) Put(key string, val any, opts ...PutOption) {
	select {
	case L.putCh <- putReq{key: key, val: val, opts: opts}:
	case <-L.closeCh:
	}
}

func (L *LRU) Delete(key string) {
	select {
	case L.deleteCh <- key:
	case <-L.closeCh:
	}
}

// Close stops the background goroutine. Subsequent operations are no-ops.
func (L *LRU) Close() {
	select {
	case <-L.closeCh:
	default:
		close(L.closeCh)
	}
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}

	l := &LRU{
		getCh:    make(chan getReq),
		putCh:    make(chan putReq),
		deleteCh: make(chan string),
		closeCh:  make(chan struct{}),
	}

	go l.run(opts.Size)

	return l
}

func (L *LRU) run(size int) {
	ll := list.New()
	cache := make(map[string]*list.Element)

	for {
		select {
		case <-L.closeCh:
			return
		case req := <-L.getCh:
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
			ll.MoveToFront(ele)
			req.resp <- getResp{val: ent.val, ok: true}
		case req := <-L.putCh:
			po := PutOptions{}
			for _, o := range req.opts {
				o(&po)
			}
			var expiresAt time.Time
			if po.TTL > 0 {
				expiresAt = time.Now().Add(po.TTL)
			}
			if ele, ok := cache[req.key]; ok {
				ll.MoveToFront(ele)
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
		case key := <-L.deleteCh:
			if ele, ok := cache[key]; ok {
				ll.Remove(ele)
				delete(cache, key)
			}
		}
	}
}

var _ Cache = (*LRU)(nil)
