package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into train and test sets so that
// every class keeps its share of rows in both. Each class is shuffled with
// the seeded source and its first round(testSize*n) rows go to test. A class
// with at least two rows always contributes to both sides.
func StratifiedSplit(y []int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be between 0 and 1, got %v", testSize)
	}
	if len(y) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 rows to split, got %d", len(y))
	}

	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rnd := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		rows := byClass[c]
		rnd.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		nTest := int(math.Round(testSize * float64(len(rows))))
		if len(rows) >= 2 {
			nTest = min(max(nTest, 1), len(rows)-1)
		}
		test = append(test, rows[:nTest]...)
		train = append(train, rows[nTest:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// Take returns the rows of X and y at idx.
func Take(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = X[j]
		ys[i] = y[j]
	}
	return xs, ys
}

// ClassCounts tallies labels.
func ClassCounts(y []int) map[int]int {
	counts := map[int]int{}
	for _, v := range y {
		counts[v]++
	}
	return counts
}
