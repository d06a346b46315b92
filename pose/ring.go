package pose

// ring is a fixed-capacity FIFO. Pushing into a full ring drops the oldest
// element. It is not safe for concurrent use; Store guards it.
type ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.count == len(r.buf) {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
}

func (r *ring[T]) len() int {
	return r.count
}

// at returns the i-th element in insertion order, 0 being the oldest
func (r *ring[T]) at(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring[T]) first() T {
	return r.at(0)
}

func (r *ring[T]) last() T {
	return r.at(r.count - 1)
}

// slice copies the contents oldest-first
func (r *ring[T]) slice() []T {
	out := make([]T, r.count)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}
