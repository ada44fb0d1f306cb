package model

import (
	"errors"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// SMOTE oversamples every minority class with synthetic rows interpolated
// between a sample and one of its K nearest same-class neighbours, until all
// classes have as many rows as the largest one.
type SMOTE struct {
	K           int
	RandomState int64
}

func NewSMOTE(k int, seed int64) *SMOTE {
	return &SMOTE{K: k, RandomState: seed}
}

// FitResample returns the original rows followed by the synthetic ones.
// The inputs are not modified.
func (s *SMOTE) FitResample(X [][]float64, y []int) ([][]float64, []int, error) {
	if len(X) == 0 {
		return nil, nil, errors.New("smote: empty X")
	}
	if len(X) != len(y) {
		return nil, nil, errors.New("smote: X and y length mismatch")
	}
	if s.K < 1 {
		return nil, nil, errors.New("smote: K must be positive")
	}

	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	majority := 0
	for c, rows := range byClass {
		classes = append(classes, c)
		majority = max(majority, len(rows))
	}
	sort.Ints(classes)

	outX := make([][]float64, len(X), len(X)*2)
	copy(outX, X)
	outY := make([]int, len(y), len(y)*2)
	copy(outY, y)

	rnd := rand.New(rand.NewSource(s.RandomState))
	for _, c := range classes {
		rows := byClass[c]
		need := majority - len(rows)
		if need == 0 {
			continue
		}

		members := make([][]float64, len(rows))
		for i, r := range rows {
			members[i] = X[r]
		}
		neighbours := nearestNeighbours(members, min(s.K, len(members)-1))

		for n := 0; n < need; n++ {
			i := rnd.Intn(len(members))
			base := members[i]
			if len(neighbours[i]) == 0 {
				outX = append(outX, append([]float64(nil), base...))
				outY = append(outY, c)
				continue
			}
			other := members[neighbours[i][rnd.Intn(len(neighbours[i]))]]
			gap := rnd.Float64()

			synthetic := make([]float64, len(base))
			for j := range base {
				synthetic[j] = base[j] + gap*(other[j]-base[j])
			}
			outX = append(outX, synthetic)
			outY = append(outY, c)
		}
	}
	return outX, outY, nil
}

// nearestNeighbours returns, for every row, the indices of its k closest
// other rows by Euclidean distance. Rows are split across workers.
func nearestNeighbours(rows [][]float64, k int) [][]int {
	out := make([][]int, len(rows))
	if k <= 0 {
		return out
	}

	workers := runtime.GOMAXPROCS(0)
	perWorker := (len(rows) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := min(start+perWorker, len(rows))
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				out[i] = kNearest(rows, i, k)
			}
		}(start, end)
	}
	wg.Wait()
	return out
}

func kNearest(rows [][]float64, i, k int) []int {
	type neighbour struct {
		d float64
		j int
	}
	nbrs := make([]neighbour, 0, k+1)
	for j, row := range rows {
		if j == i {
			continue
		}
		d := euclidSquared(rows[i], row)
		if len(nbrs) == k && d >= nbrs[k-1].d {
			continue
		}
		pos := sort.Search(len(nbrs), func(n int) bool { return nbrs[n].d > d })
		nbrs = append(nbrs, neighbour{})
		copy(nbrs[pos+1:], nbrs[pos:])
		nbrs[pos] = neighbour{d: d, j: j}
		if len(nbrs) > k {
			nbrs = nbrs[:k]
		}
	}

	out := make([]int, len(nbrs))
	for n, nb := range nbrs {
		out[n] = nb.j
	}
	return out
}

func euclidSquared(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
