package channel

import "github.com/MrWong99/crossmix/pkg/audio"

// ticket is a request admitted into a channel. While held, the request's
// synthesized buffer (if any) is marked as owned by this channel. A ticket is
// released exactly once, when its request is retired or dropped; releasing
// an empty ticket is a no-op.
type ticket struct {
	req  audio.Request
	held bool
}

func admit(r audio.Request) ticket {
	r.Source.Claim()
	return ticket{req: r, held: true}
}

func (t *ticket) release() {
	if t.held {
		t.req.Source.Release()
	}
	*t = ticket{}
}

// fifo is a fixed-capacity ring of tickets. It never grows, so pushing and
// popping never allocate.
type fifo struct {
	items []ticket
	head  int
	n     int
}

func newFIFO(capacity int) fifo {
	return fifo{items: make([]ticket, capacity)}
}

func (q *fifo) len() int   { return q.n }
func (q *fifo) full() bool { return q.n == len(q.items) }

func (q *fifo) push(t ticket) {
	q.items[(q.head+q.n)%len(q.items)] = t
	q.n++
}

func (q *fifo) front() *ticket {
	return &q.items[q.head]
}

// pop moves the front ticket out of the queue without releasing it.
func (q *fifo) pop() ticket {
	t := q.items[q.head]
	q.items[q.head] = ticket{}
	q.head = (q.head + 1) % len(q.items)
	q.n--
	return t
}

// clear releases every queued ticket.
func (q *fifo) clear() {
	for q.n > 0 {
		t := q.pop()
		t.release()
	}
	q.head = 0
}
