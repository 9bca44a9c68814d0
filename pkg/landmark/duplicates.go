package landmark

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"splinewarp/internal/models"
)

// indexedPoint is a landmark that remembers its position in the input list
type indexedPoint struct {
	models.Point
	index int
}

// Compare implements the kdtree.Comparable interface
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	return p.Point[d] - q.Point[d]
}

// Dims returns the number of dimensions for the KD-tree
func (p indexedPoint) Dims() int { return len(p.Point) }

// Distance returns the squared Euclidean distance between two points
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	sum := 0.0
	for i := range p.Point {
		d := p.Point[i] - q.Point[i]
		sum += d * d
	}
	return sum
}

// indexedPoints satisfies kdtree.Interface
type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{indexedPoints: p, Dim: d}, kdtree.MedianOfRandoms(plane{indexedPoints: p, Dim: d}, 100))
}

// plane implements sort.Interface and kdtree.SortSlicer
type plane struct {
	indexedPoints
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].Point[p.Dim] < p.indexedPoints[j].Point[p.Dim]
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// FindDuplicates returns the index pairs (i < j) of landmarks closer than
// tol to each other. Such pairs make the kernel matrix (near) singular.
func FindDuplicates(points []models.Point, tol float64) [][2]int {
	if len(points) < 2 {
		return nil
	}

	indexed := make(indexedPoints, len(points))
	for i, p := range points {
		indexed[i] = indexedPoint{Point: p, index: i}
	}
	// kdtree.New reorders its input, keep the original order for queries
	tree := kdtree.New(append(indexedPoints(nil), indexed...), false)

	var pairs [][2]int
	for _, q := range indexed {
		keeper := kdtree.NewDistKeeper(tol * tol)
		tree.NearestSet(keeper, q)
		for _, c := range keeper.Heap {
			if c.Comparable == nil {
				continue
			}
			other := c.Comparable.(indexedPoint).index
			if other > q.index {
				pairs = append(pairs, [2]int{q.index, other})
			}
		}
	}

	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a][0] != pairs[b][0] {
			return pairs[a][0] < pairs[b][0]
		}
		return pairs[a][1] < pairs[b][1]
	})
	return pairs
}
