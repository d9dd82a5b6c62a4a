package risk

import "sort"

// returnsBuffer is a fixed-capacity ring buffer of per-symbol return rows. A
// row maps symbol to its return for that observation; symbols with no
// observation are simply absent from the row.
type returnsBuffer struct {
	rows []map[string]float64
	head int
	size int
}

func newReturnsBuffer(capacity int) *returnsBuffer {
	return &returnsBuffer{
		rows: make([]map[string]float64, capacity),
	}
}

// push appends a row, overwriting the oldest one when the buffer is full.
func (b *returnsBuffer) push(row map[string]float64) {
	b.rows[b.head] = row
	b.head = (b.head + 1) % len(b.rows)

	if b.size < len(b.rows) {
		b.size++
	}
}

func (b *returnsBuffer) len() int {
	return b.size
}

// forEach visits rows oldest first.
func (b *returnsBuffer) forEach(fn func(row map[string]float64)) {
	start := b.head - b.size
	if start < 0 {
		start += len(b.rows)
	}

	for i := 0; i < b.size; i++ {
		fn(b.rows[(start+i)%len(b.rows)])
	}
}

// symbols returns the sorted set of symbols present in any buffered row.
func (b *returnsBuffer) symbols() []string {
	seen := make(map[string]struct{})

	b.forEach(func(row map[string]float64) {
		for symbol := range row {
			seen[symbol] = struct{}{}
		}
	})

	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}

	sort.Strings(out)

	return out
}

// contains reports whether the symbol has any buffered observation.
func (b *returnsBuffer) contains(symbol string) bool {
	found := false

	b.forEach(func(row map[string]float64) {
		if _, ok := row[symbol]; ok {
			found = true
		}
	})

	return found
}

// series extracts the paired observations of two symbols, keeping only rows
// where both are present.
func (b *returnsBuffer) series(a, c string) (x, y []float64) {
	b.forEach(func(row map[string]float64) {
		va, okA := row[a]

		vc, okC := row[c]
		if okA && okC {
			x = append(x, va)
			y = append(y, vc)
		}
	})

	return x, y
}

// portfolioReturns computes the mean return across the symbols present in
// each row, oldest first.
func (b *returnsBuffer) portfolioReturns() []float64 {
	out := make([]float64, 0, b.size)

	b.forEach(func(row map[string]float64) {
		if len(row) == 0 {
			return
		}

		sum := 0.0
		for _, v := range row {
			sum += v
		}

		out = append(out, sum/float64(len(row)))
	})

	return out
}
