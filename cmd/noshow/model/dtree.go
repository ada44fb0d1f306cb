package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

var (
	// ErrNotFitted is returned when predicting with an untrained tree.
	ErrNotFitted = errors.New("decision tree is not fitted")
	// ErrDimension is returned when rows do not match the fitted width.
	ErrDimension = errors.New("feature dimension mismatch")
)

// DecisionTreeClassifier is a CART classifier with axis-aligned threshold
// splits. All fields are exported so the fitted tree can be stored with gob.
type DecisionTreeClassifier struct {
	MaxDepth            int     // 0 means unlimited
	MinSamplesSplit     int
	MinSamplesLeaf      int
	Criterion           string  // "gini" or "entropy"
	MaxFeatures         int     // 0 means all features
	MinImpurityDecrease float64
	RandomState         int64

	Root        *Node
	Classes     []int
	NFeatures   int
	Importances []float64
}

// Node is a split or a leaf. Rows with x[Feature] <= Threshold go left.
type Node struct {
	Leaf      bool
	Feature   int
	Threshold float64
	Left      *Node
	Right     *Node
	N         int
	Probas    []float64
}

type Option func(*DecisionTreeClassifier)

func WithMaxDepth(d int) Option { return func(t *DecisionTreeClassifier) { t.MaxDepth = d } }
func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTreeClassifier) { t.MinSamplesSplit = n }
}
func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTreeClassifier) { t.MinSamplesLeaf = n }
}
func WithCriterion(c string) Option { return func(t *DecisionTreeClassifier) { t.Criterion = c } }
func WithMaxFeatures(k int) Option  { return func(t *DecisionTreeClassifier) { t.MaxFeatures = k } }
func WithMinImpurityDecrease(v float64) Option {
	return func(t *DecisionTreeClassifier) { t.MinImpurityDecrease = v }
}
func WithRandomState(seed int64) Option {
	return func(t *DecisionTreeClassifier) { t.RandomState = seed }
}

func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	t := &DecisionTreeClassifier{
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Criterion:       "gini",
		RandomState:     42,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Fit grows the tree on X (n rows of p features) and integer labels y.
func (t *DecisionTreeClassifier) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("dtree: empty X")
	}
	if len(y) != len(X) {
		return fmt.Errorf("dtree: %d rows but %d labels", len(X), len(y))
	}
	p := len(X[0])
	for i := range X {
		if len(X[i]) != p {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrDimension, i, len(X[i]), p)
		}
	}

	t.Classes = uniqueSorted(y)
	t.NFeatures = p
	t.Importances = make([]float64, p)

	classIdx := make(map[int]int, len(t.Classes))
	for i, c := range t.Classes {
		classIdx[c] = i
	}
	labels := make([]int, len(y))
	for i, v := range y {
		labels[i] = classIdx[v]
	}

	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}

	b := &builder{
		tree:     t,
		X:        X,
		y:        labels,
		nClasses: len(t.Classes),
		rnd:      rand.New(rand.NewSource(t.RandomState)),
		impurity: giniFromCounts,
	}
	if t.Criterion == "entropy" {
		b.impurity = entropyFromCounts
	}
	t.Root = b.build(idx, 0)

	var total float64
	for _, v := range t.Importances {
		total += v
	}
	if total > 0 {
		for i := range t.Importances {
			t.Importances[i] /= total
		}
	}
	return nil
}

// Predict returns the majority class of the leaf each row falls into.
func (t *DecisionTreeClassifier) Predict(X [][]float64) ([]int, error) {
	probas, err := t.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probas))
	for i, p := range probas {
		out[i] = t.Classes[argmax(p)]
	}
	return out, nil
}

// PredictProba returns per-class probabilities aligned with Classes.
func (t *DecisionTreeClassifier) PredictProba(X [][]float64) ([][]float64, error) {
	if t.Root == nil {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != t.NFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrDimension, i, len(row), t.NFeatures)
		}
		out[i] = t.leaf(row).Probas
	}
	return out, nil
}

func (t *DecisionTreeClassifier) leaf(row []float64) *Node {
	n := t.Root
	for !n.Leaf {
		v := row[n.Feature]
		switch {
		case math.IsNaN(v):
			// missing values follow the larger child
			if n.Left.N >= n.Right.N {
				n = n.Left
			} else {
				n = n.Right
			}
		case v <= n.Threshold:
			n = n.Left
		default:
			n = n.Right
		}
	}
	return n
}

// Depth returns the number of split levels below the root.
func (t *DecisionTreeClassifier) Depth() int {
	var depth func(n *Node) int
	depth = func(n *Node) int {
		if n == nil || n.Leaf {
			return 0
		}
		return 1 + max(depth(n.Left), depth(n.Right))
	}
	return depth(t.Root)
}

// Leaves counts the terminal nodes.
func (t *DecisionTreeClassifier) Leaves() int {
	var count func(n *Node) int
	count = func(n *Node) int {
		if n == nil {
			return 0
		}
		if n.Leaf {
			return 1
		}
		return count(n.Left) + count(n.Right)
	}
	return count(t.Root)
}

type builder struct {
	tree     *DecisionTreeClassifier
	X        [][]float64
	y        []int
	nClasses int
	rnd      *rand.Rand
	impurity func([]int) float64
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	ok        bool
	// missingLeft sends rows without a value to the left child
	missingLeft bool
}

func (b *builder) build(idx []int, depth int) *Node {
	t := b.tree
	counts := b.counts(idx)
	node := &Node{N: len(idx), Probas: countsToProbas(counts)}

	if isPure(counts) ||
		len(idx) < t.MinSamplesSplit ||
		len(idx) < 2*max(t.MinSamplesLeaf, 1) ||
		(t.MaxDepth > 0 && depth >= t.MaxDepth) {
		node.Leaf = true
		return node
	}

	features := b.candidateFeatures()
	parent := b.impurity(counts)

	// one goroutine per feature; results are indexed so ties resolve to
	// the earliest candidate regardless of scheduling
	results := make([]split, len(features))
	var wg sync.WaitGroup
	for i, f := range features {
		wg.Add(1)
		go func(i, f int) {
			defer wg.Done()
			results[i] = b.bestSplit(idx, f, parent)
		}(i, f)
	}
	wg.Wait()

	best := split{}
	for _, r := range results {
		if r.ok && (!best.ok || r.gain > best.gain) {
			best = r
		}
	}
	if !best.ok || best.gain <= t.MinImpurityDecrease {
		node.Leaf = true
		return node
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		v := b.X[i][best.feature]
		if (math.IsNaN(v) && best.missingLeft) || v <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	t.Importances[best.feature] += best.gain * float64(len(idx))
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = b.build(left, depth+1)
	node.Right = b.build(right, depth+1)
	return node
}

func (b *builder) candidateFeatures() []int {
	p := b.tree.NFeatures
	features := make([]int, p)
	for i := range features {
		features[i] = i
	}
	if k := b.tree.MaxFeatures; k > 0 && k < p {
		b.rnd.Shuffle(p, func(i, j int) { features[i], features[j] = features[j], features[i] })
		features = features[:k]
		sort.Ints(features)
	}
	return features
}

// bestSplit scans the sorted values of feature f once, moving rows from the
// right partition to the left and scoring each boundary between distinct
// values. Rows with a missing value join the side holding more of the
// others, which is where they are routed at prediction time.
func (b *builder) bestSplit(idx []int, f int, parent float64) split {
	type pair struct {
		v float64
		y int
	}
	valid := make([]pair, 0, len(idx))
	missing := make([]int, b.nClasses)
	for _, i := range idx {
		if v := b.X[i][f]; math.IsNaN(v) {
			missing[b.y[i]]++
		} else {
			valid = append(valid, pair{v, b.y[i]})
		}
	}
	if len(valid) < 2 {
		return split{}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].v < valid[j].v })
	nMissing := len(idx) - len(valid)

	minLeaf := max(b.tree.MinSamplesLeaf, 1)
	leftCounts := make([]int, b.nClasses)
	rightCounts := make([]int, b.nClasses)
	for _, p := range valid {
		rightCounts[p.y]++
	}
	withMissing := make([]int, b.nClasses)

	n := float64(len(idx))
	best := split{feature: f}
	for s := 1; s < len(valid); s++ {
		leftCounts[valid[s-1].y]++
		rightCounts[valid[s-1].y]--
		if valid[s].v == valid[s-1].v {
			continue
		}
		nl, nr := s, len(valid)-s
		missingLeft := nl >= nr
		lc, rc := leftCounts, rightCounts
		if nMissing > 0 {
			if missingLeft {
				nl += nMissing
				lc = addCounts(withMissing, leftCounts, missing)
			} else {
				nr += nMissing
				rc = addCounts(withMissing, rightCounts, missing)
			}
		}
		if nl < minLeaf || nr < minLeaf {
			continue
		}
		weighted := float64(nl)/n*b.impurity(lc) + float64(nr)/n*b.impurity(rc)
		gain := parent - weighted
		if !best.ok || gain > best.gain {
			best.ok = true
			best.gain = gain
			best.threshold = (valid[s-1].v + valid[s].v) / 2
			best.missingLeft = missingLeft
		}
	}
	return best
}

// addCounts writes a+b into dst and returns it.
func addCounts(dst, a, b []int) []int {
	for i := range dst {
		dst[i] = a[i] + b[i]
	}
	return dst
}

func (b *builder) counts(idx []int) []int {
	counts := make([]int, b.nClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	return counts
}

func giniFromCounts(counts []int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		g -= p * p
	}
	return g
}

func entropyFromCounts(counts []int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	e := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		e -= p * math.Log2(p)
	}
	return e
}

func countsToProbas(counts []int) []float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]float64, len(counts))
	if total == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = float64(c) / float64(total)
	}
	return out
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func uniqueSorted(y []int) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
