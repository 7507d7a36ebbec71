package permutation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"time"
)

// Pair is one (task, factor) trial slot in a sequence. Its wire form is the
// two-element array [task_id, factor_id], which is also the canonical form
// hashed for sequence identity.
type Pair struct {
	TaskID   uint
	FactorID uint
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint{p.TaskID, p.FactorID})
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var arr [2]uint
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("invalid pair: %w", err)
	}
	p.TaskID, p.FactorID = arr[0], arr[1]
	return nil
}

// Status describes how a sequence was produced.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusExhausted         Status = "exhausted"
	StatusTimeout           Status = "timeout"
	StatusExhaustedFallback Status = "exhausted_fallback"
	StatusTimeoutFallback   Status = "timeout_fallback"
	StatusError             Status = "error"
)

// SearchBudget caps the random-search path. Permutation requests must stay
// interactive; past this the caller falls back to a non-unique sequence.
const SearchBudget = 5 * time.Second

// Hash converts a sequence to a stable identity: SHA-256 over the canonical
// JSON encoding of its ordered (task, factor) pairs. Two sequences are equal
// iff their hashes match.
func Hash(sequence []Pair) string {
	encoded, _ := json.Marshal(sequence)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// UniquePermCount returns the number of distinct orderings of a multiset:
// n! / prod(c_i!) over the element multiplicities. Used to detect exhaustion
// without searching.
func UniquePermCount(pool []Pair) *big.Int {
	counts := make(map[Pair]int64, len(pool))
	for _, p := range pool {
		counts[p]++
	}

	result := new(big.Int).MulRange(1, int64(len(pool)))
	for _, c := range counts {
		result.Div(result, new(big.Int).MulRange(1, c))
	}
	return result
}

// remainderCombos enumerates the C(len(options), k) choices of "unbalanced"
// pairs that top up a balanced base pool. k == 0 yields one empty combo.
func remainderCombos(options []Pair, k int) [][]Pair {
	if k == 0 {
		return [][]Pair{{}}
	}

	var combos [][]Pair
	combo := make([]int, k)
	var recurse func(start, depth int)
	recurse = func(start, depth int) {
		if depth == k {
			chosen := make([]Pair, k)
			for i, idx := range combo {
				chosen[i] = options[idx]
			}
			combos = append(combos, chosen)
			return
		}
		for i := start; i <= len(options)-(k-depth); i++ {
			combo[depth] = i
			recurse(i+1, depth+1)
		}
	}
	recurse(0, 0)
	return combos
}

// basePool builds the balanced multiset: every unique pair repeated
// floor(count / unique) times, so no pair is starved.
func basePool(options []Pair, count int) []Pair {
	repeats := count / len(options)
	pool := make([]Pair, 0, repeats*len(options))
	for i := 0; i < repeats; i++ {
		pool = append(pool, options...)
	}
	return pool
}

// maxUniqueSequences bounds the number of distinct sequences the option set
// admits at the requested length: unique orderings of one full pool times the
// number of remainder combos. Remainder pools all share the same multiplicity
// shape, so one sample pool suffices for the count.
func maxUniqueSequences(options []Pair, count int) *big.Int {
	combos := remainderCombos(options, count%len(options))
	sample := append(basePool(options, count), combos[0]...)
	return new(big.Int).Mul(UniquePermCount(sample), big.NewInt(int64(len(combos))))
}

// allPermutations materializes every ordering of pool. Only used on the fast
// path (count <= 4) where the factorial is tiny.
func allPermutations(pool []Pair) [][]Pair {
	var result [][]Pair
	work := make([]Pair, len(pool))
	copy(work, pool)

	var recurse func(k int)
	recurse = func(k int) {
		if k == len(work) {
			perm := make([]Pair, len(work))
			copy(perm, work)
			result = append(result, perm)
			return
		}
		for i := k; i < len(work); i++ {
			work[k], work[i] = work[i], work[k]
			recurse(k + 1)
			work[k], work[i] = work[i], work[k]
		}
	}
	recurse(0)
	return result
}

// generate produces one sequence of length count over the given unique
// options. With unique set, the sequence's hash must be absent from used;
// the return status is exhausted when the option space is provably spent and
// timeout when the random search ran out of budget.
func generate(rng *rand.Rand, options []Pair, count int, unique bool, used map[string]struct{}, budget time.Duration) ([]Pair, Status) {
	if len(options) == 0 || count <= 0 {
		return nil, StatusError
	}

	base := basePool(options, count)
	combos := remainderCombos(options, count%len(options))

	if !unique {
		pool := append(append([]Pair{}, base...), combos[rng.Intn(len(combos))]...)
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		return pool, StatusSuccess
	}

	// Pigeonhole check before searching: if every admissible sequence has
	// already been issued there is nothing to find.
	if big.NewInt(int64(len(used))).Cmp(maxUniqueSequences(options, count)) >= 0 {
		return nil, StatusExhausted
	}

	if count <= 4 {
		// Short sequences: materializing all orderings is cheap and the
		// search is then total rather than probabilistic.
		rng.Shuffle(len(combos), func(i, j int) { combos[i], combos[j] = combos[j], combos[i] })
		for _, combo := range combos {
			pool := append(append([]Pair{}, base...), combo...)
			perms := allPermutations(pool)
			rng.Shuffle(len(perms), func(i, j int) { perms[i], perms[j] = perms[j], perms[i] })
			for _, perm := range perms {
				if _, taken := used[Hash(perm)]; !taken {
					return perm, StatusSuccess
				}
			}
		}
		// The bound said a free sequence exists, but duplicate hashes in
		// used can make the count lie; treat as exhausted.
		return nil, StatusExhausted
	}

	// Long sequences: the factorial space is too large to enumerate, but for
	// the same reason random shuffles rarely collide with used hashes.
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		pool := append(append([]Pair{}, base...), combos[rng.Intn(len(combos))]...)
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		if _, taken := used[Hash(pool)]; !taken {
			return pool, StatusSuccess
		}
	}
	return nil, StatusTimeout
}

// crossPairs builds tasks x factors.
func crossPairs(tasks, factors []uint) []Pair {
	pairs := make([]Pair, 0, len(tasks)*len(factors))
	for _, t := range tasks {
		for _, f := range factors {
			pairs = append(pairs, Pair{TaskID: t, FactorID: f})
		}
	}
	return pairs
}

// WithinPerm returns a trial sequence for a within-subject study: the option
// space is the full tasks x factors cross. Falls back to a non-unique
// sequence on exhaustion or timeout, tagging the status accordingly.
func WithinPerm(rng *rand.Rand, tasks, factors []uint, count int, used map[string]struct{}, budget time.Duration) ([]Pair, Status) {
	options := crossPairs(tasks, factors)

	perm, status := generate(rng, options, count, true, used, budget)
	switch status {
	case StatusSuccess:
		return perm, StatusSuccess
	case StatusExhausted:
		perm, _ = generate(rng, options, count, false, used, budget)
		return perm, StatusExhaustedFallback
	case StatusTimeout:
		perm, _ = generate(rng, options, count, false, used, budget)
		return perm, StatusTimeoutFallback
	default:
		return nil, StatusError
	}
}

// BetweenPerm returns a trial sequence for a between-subject study: a single
// factor is fixed for the whole session. Factors are tried in random order
// and exhaustion is accounted per factor, so unequal per-factor sequence
// spaces cannot mask a factor that still admits a unique sequence.
func BetweenPerm(rng *rand.Rand, tasks, factors []uint, count int, used map[string]struct{}, budget time.Duration) ([]Pair, Status) {
	if len(factors) == 0 {
		return nil, StatusError
	}

	order := append([]uint{}, factors...)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	allExhausted := true
	timedOut := false

	for _, factor := range order {
		options := crossPairs(tasks, []uint{factor})
		perm, status := generate(rng, options, count, true, used, budget)

		switch status {
		case StatusSuccess:
			return perm, StatusSuccess
		case StatusExhausted:
			// This factor's space is spent; the next may not be.
		case StatusTimeout:
			timedOut = true
			allExhausted = false
		default:
			allExhausted = false
		}
	}

	fallbackFactor := factors[rng.Intn(len(factors))]
	fallback, _ := generate(rng, crossPairs(tasks, []uint{fallbackFactor}), count, false, used, budget)

	switch {
	case allExhausted:
		return fallback, StatusExhaustedFallback
	case timedOut:
		return fallback, StatusTimeoutFallback
	default:
		return fallback, StatusError
	}
}
