// Package pyrand is a Mersenne Twister (MT19937) generator that reproduces the sequences of
// CPython's random module for integer seeds.
//
// Dataset splits are produced by seeding and shuffling exactly the way the Python tooling around
// Label Studio does, so that a Go run and a Python run over the same export assign every image to
// the same subset.
package pyrand

import "math/bits"

const (
	n         = 624
	m         = 397
	matrixA   = 0x9908b0df
	upperMask = 0x80000000
	lowerMask = 0x7fffffff
)

// Rand is a MT19937 generator. It is not safe for concurrent use.
type Rand struct {
	mt  [n]uint32
	mti int
}

// New returns a generator seeded like random.seed(seed) for a non-negative int seed.
func New(seed uint64) *Rand {
	r := &Rand{}
	r.Seed(seed)
	return r
}

// Seed reinitialises the state like random.seed(seed). CPython splits the absolute value of the
// seed into 32-bit words, least significant first, and feeds them to init_by_array.
func (r *Rand) Seed(seed uint64) {
	key := []uint32{uint32(seed)}
	if hi := uint32(seed >> 32); hi != 0 {
		key = append(key, hi)
	}
	r.initByArray(key)
}

func (r *Rand) initGenrand(s uint32) {
	r.mt[0] = s
	for i := 1; i < n; i++ {
		r.mt[i] = 1812433253*(r.mt[i-1]^(r.mt[i-1]>>30)) + uint32(i)
	}
	r.mti = n
}

func (r *Rand) initByArray(key []uint32) {
	r.initGenrand(19650218)
	i, j := 1, 0
	k := n
	if len(key) > k {
		k = len(key)
	}
	for ; k > 0; k-- {
		r.mt[i] = (r.mt[i] ^ ((r.mt[i-1] ^ (r.mt[i-1] >> 30)) * 1664525)) + key[j] + uint32(j)
		i++
		j++
		if i >= n {
			r.mt[0] = r.mt[n-1]
			i = 1
		}
		if j >= len(key) {
			j = 0
		}
	}
	for k = n - 1; k > 0; k-- {
		r.mt[i] = (r.mt[i] ^ ((r.mt[i-1] ^ (r.mt[i-1] >> 30)) * 1566083941)) - uint32(i)
		i++
		if i >= n {
			r.mt[0] = r.mt[n-1]
			i = 1
		}
	}
	r.mt[0] = 0x80000000
}

// Uint32 returns the next tempered 32-bit output (genrand_uint32).
func (r *Rand) Uint32() uint32 {
	mag01 := [2]uint32{0, matrixA}
	if r.mti >= n {
		var kk int
		for kk = 0; kk < n-m; kk++ {
			y := (r.mt[kk] & upperMask) | (r.mt[kk+1] & lowerMask)
			r.mt[kk] = r.mt[kk+m] ^ (y >> 1) ^ mag01[y&1]
		}
		for ; kk < n-1; kk++ {
			y := (r.mt[kk] & upperMask) | (r.mt[kk+1] & lowerMask)
			r.mt[kk] = r.mt[kk+(m-n)] ^ (y >> 1) ^ mag01[y&1]
		}
		y := (r.mt[n-1] & upperMask) | (r.mt[0] & lowerMask)
		r.mt[n-1] = r.mt[m-1] ^ (y >> 1) ^ mag01[y&1]
		r.mti = 0
	}

	y := r.mt[r.mti]
	r.mti++

	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// Float64 returns a float in [0.0, 1.0) with 53 bits of randomness, like random.random().
func (r *Rand) Float64() float64 {
	a := r.Uint32() >> 5
	b := r.Uint32() >> 6
	return (float64(a)*67108864.0 + float64(b)) * (1.0 / 9007199254740992.0)
}

// getrandbits returns k random bits, 0 < k <= 32.
func (r *Rand) getrandbits(k int) uint32 {
	return r.Uint32() >> (32 - uint(k))
}

// Below returns a uniform int in [0, bound) using rejection sampling over bit_length(bound)
// bits, like random._randbelow. It panics if bound <= 0 or bound >= 1<<32.
func (r *Rand) Below(bound int) int {
	if bound <= 0 || uint64(bound) >= 1<<32 {
		panic("pyrand: bound out of range")
	}
	k := bits.Len32(uint32(bound))
	v := r.getrandbits(k)
	for v >= uint32(bound) {
		v = r.getrandbits(k)
	}
	return int(v)
}

// Shuffle permutes the n elements addressed by swap in place, like random.shuffle.
func (r *Rand) Shuffle(length int, swap func(i, j int)) {
	for i := length - 1; i > 0; i-- {
		swap(i, r.Below(i+1))
	}
}
