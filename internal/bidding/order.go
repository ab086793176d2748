package bidding

import "sync"

// commitOrder hands out per-lot tickets while the lot row lock is held.
// A transaction commits before it releases the row lock, so within one
// process ticket order is commit order.  Holders publish strictly in
// ticket order; a ticket whose transaction failed is still released in
// turn so later holders are not stranded.
type commitOrder struct {
	mu   sync.Mutex
	lots map[uint64]*lotTurn
}

type lotTurn struct {
	next    uint64
	serving uint64
	cond    *sync.Cond
}

type ticket struct {
	lotID uint64
	n     uint64
	held  bool
}

func newCommitOrder() *commitOrder {
	return &commitOrder{lots: make(map[uint64]*lotTurn)}
}

// take assigns t the next ticket for lotID.  Callers must hold the lot
// row lock.  A ticket is taken at most once.
func (o *commitOrder) take(lotID uint64, t *ticket) {
	if t.held {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	lt, ok := o.lots[lotID]
	if !ok {
		lt = &lotTurn{cond: sync.NewCond(&o.mu)}
		o.lots[lotID] = lt
	}
	t.lotID, t.n, t.held = lotID, lt.next, true
	lt.next++
}

// inTurn waits until every earlier ticket on the lot is released, runs
// fn, then releases t.  Earlier holders have already committed or
// rolled back, so the wait only covers their publication.
func (o *commitOrder) inTurn(t *ticket, fn func()) {
	if !t.held {
		fn()
		return
	}
	o.mu.Lock()
	lt := o.lots[t.lotID]
	for lt.serving != t.n {
		lt.cond.Wait()
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		lt.serving++
		if lt.serving == lt.next {
			delete(o.lots, t.lotID)
		}
		lt.cond.Broadcast()
		o.mu.Unlock()
		t.held = false
	}()
	fn()
}

// pending reports the number of lots with outstanding tickets.
func (o *commitOrder) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lots)
}
