package slopesort

import (
	"context"
	"testing"
	"time"

	"github.com/slopesort/slopesort/pkg/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCmp scores comparisons with a fixed value or a custom rule.
type scriptedCmp struct {
	score float64
	fn    func(a, b string) float64
	calls int
}

func (s *scriptedCmp) CompareDescriptions(_ context.Context, a, b string) (float64, string, error) {
	s.calls++
	if s.fn != nil {
		return s.fn(a, b), "", nil
	}
	return s.score, "", nil
}

func at(clock string) time.Time {
	ts, err := time.Parse("15:04:05.000", clock)
	if err != nil {
		ts, err = time.Parse("15:04:05", clock)
		if err != nil {
			panic(err)
		}
	}
	return ts.AddDate(2024, 2, 14)
}

func img(name, clock string) *Image {
	i := &Image{Path: "/photos/" + name, RelPath: name}
	if clock != "" {
		i.Taken = at(clock)
	}
	return i
}

func det(desc string, bib string) vision.Detection {
	d := vision.Detection{Position: "center", OutfitDescription: desc}
	if bib != "" {
		d.BibNumber = &bib
	}
	return d
}

func newTestClusterer(cmp Comparator, threshold float64) *Clusterer {
	return NewClusterer(cmp, threshold, 10*time.Second, 30*time.Second)
}

// A burst of five frames inside the exact window forms one cluster with
// zero visual comparisons, named by the first bib seen.
func TestBurstWithinExactWindow(t *testing.T) {
	cmp := &scriptedCmp{score: 0}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", "14:23:45"), det("red helmet", "23"))
	c.Assign(ctx, img("b.jpg", "14:23:45.300"), det("completely different outfit", ""))
	c.Assign(ctx, img("c.jpg", "14:23:46"), det("another outfit", ""))
	c.Assign(ctx, img("d.jpg", "14:23:47"), det("yet another", ""))
	c.Assign(ctx, img("e.jpg", "14:23:48"), det("and one more", ""))

	clusters := c.Clusters()
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, 5)
	assert.Equal(t, 0, cmp.calls, "exact-window matches must not issue vision calls")
	assert.Equal(t, map[int]string{1: "Racer_Bib_23"}, c.Names())
}

// 23 seconds apart with a weak visual score still joins: the high
// window floors the score at 0.85.
func TestHighWindowFloorsScore(t *testing.T) {
	cmp := &scriptedCmp{score: 0.40}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", "10:00:00"), det("blue suit", ""))
	c.Assign(ctx, img("b.jpg", "10:00:23"), det("red suit", ""))

	require.Len(t, c.Clusters(), 1)
	assert.Equal(t, 1, cmp.calls)
}

// Outside both windows the visual score stands alone; 0.40 under a 0.5
// threshold opens a second cluster.
func TestOutsideWindowsVisualOnly(t *testing.T) {
	cmp := &scriptedCmp{score: 0.40}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", "10:00:00"), det("blue suit", ""))
	c.Assign(ctx, img("b.jpg", "10:02:00"), det("red suit", ""))

	assert.Len(t, c.Clusters(), 2)
}

// Without timestamps clustering reduces to pure visual comparison.
func TestNoTimestampsPureVisual(t *testing.T) {
	cmp := &scriptedCmp{fn: func(a, b string) float64 {
		if a == b {
			return 0.9
		}
		return 0.1
	}}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", ""), det("blue suit", ""))
	c.Assign(ctx, img("b.jpg", ""), det("blue suit", ""))
	c.Assign(ctx, img("c.jpg", ""), det("green suit", ""))

	clusters := c.Clusters()
	require.Len(t, clusters, 2)
	assert.Len(t, clusters[0].Members, 2)
	assert.Len(t, clusters[1].Members, 1)
}

// With T_EXACT == T_HIGH the middle rule is degenerate: inside the
// window rule 1 fires, outside it rule 3 does.
func TestDegenerateWindows(t *testing.T) {
	cmp := &scriptedCmp{score: 0.40}
	c := NewClusterer(cmp, 0.5, 10*time.Second, 10*time.Second)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", "10:00:00"), det("blue suit", ""))
	c.Assign(ctx, img("b.jpg", "10:00:08"), det("red suit", ""))
	assert.Equal(t, 0, cmp.calls, "inside the window rule 1 short-circuits")

	c.Assign(ctx, img("c.jpg", "10:00:28"), det("green suit", ""))
	assert.Equal(t, 1, cmp.calls, "outside the window only the visual rule fires")
	assert.Len(t, c.Clusters(), 2)
}

// LastSeen advances with each member, so a slow sequence of gate shots
// chains into one cluster even when first and last are far apart.
func TestLastSeenAdvances(t *testing.T) {
	cmp := &scriptedCmp{score: 0}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", "10:00:00"), det("x", ""))
	c.Assign(ctx, img("b.jpg", "10:00:09"), det("x", ""))
	c.Assign(ctx, img("c.jpg", "10:00:18"), det("x", ""))

	assert.Len(t, c.Clusters(), 1)
	assert.Equal(t, 0, cmp.calls)
}

// Equal best scores keep the first-created cluster.
func TestTieBreakFirstCreatedWins(t *testing.T) {
	cmp := &scriptedCmp{score: 0.2}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	first := c.Assign(ctx, img("a.jpg", ""), det("one", ""))
	c.Assign(ctx, img("b.jpg", ""), det("two", ""))

	cmp.fn = func(_, _ string) float64 { return 0.6 }
	got := c.Assign(ctx, img("c.jpg", ""), det("three", ""))
	assert.Equal(t, first.ID, got.ID)
}

// A near-perfect score stops the sweep early.
func TestEarlyTermination(t *testing.T) {
	cmp := &scriptedCmp{score: 0.96}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", ""), det("one", ""))
	cmp.fn = func(_, _ string) float64 { return 0.1 }
	c.Assign(ctx, img("b.jpg", ""), det("two", ""))

	cmp.fn = nil
	cmp.calls = 0
	c.Assign(ctx, img("c.jpg", ""), det("three", ""))
	assert.Equal(t, 1, cmp.calls, "sweep must stop at the first >= 0.95 score")
}

// The first legible bib wins the name; later disagreeing bibs are
// ignored.
func TestBibNamingFirstWins(t *testing.T) {
	cmp := &scriptedCmp{score: 1.0}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", ""), det("x", ""))
	c.Assign(ctx, img("b.jpg", ""), det("x", "23"))
	c.Assign(ctx, img("c.jpg", ""), det("x", "45"))

	assert.Equal(t, map[int]string{1: "Racer_Bib_23"}, c.Names())
}

// Bibless clusters are named from the exemplar's feature tokens,
// sanitized and capped at three.
func TestOutfitNaming(t *testing.T) {
	cmp := &scriptedCmp{score: 0}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	d := det("x", "")
	d.HelmetColors = []string{"metallic blue", "white"}
	c.Assign(ctx, img("a.jpg", ""), d)

	plain := det("y", "")
	c.Assign(ctx, img("b.jpg", ""), plain)

	names := c.Names()
	assert.Equal(t, "Outfit_1_metallicblue_white", names[1])
	assert.Equal(t, "Outfit_2", names[2])
}

// Colliding names gain numeric suffixes. Two clusters can observe the
// same bib when the model misreads one of them.
func TestNameCollisions(t *testing.T) {
	cmp := &scriptedCmp{score: 0}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", ""), det("a", "23"))
	c.Assign(ctx, img("b.jpg", ""), det("b", "23"))
	c.Assign(ctx, img("c.jpg", ""), det("c", "23"))

	names := c.Names()
	assert.Equal(t, "Racer_Bib_23", names[1])
	assert.Equal(t, "Racer_Bib_23_2", names[2])
	assert.Equal(t, "Racer_Bib_23_3", names[3])
}

// Comparator failures score zero rather than aborting the run.
func TestComparatorErrorScoresZero(t *testing.T) {
	c := newTestClusterer(failingCmp{}, 0.5)
	ctx := context.Background()

	c.Assign(ctx, img("a.jpg", ""), det("one", ""))
	c.Assign(ctx, img("b.jpg", ""), det("two", ""))
	assert.Len(t, c.Clusters(), 2)
}

type failingCmp struct{}

func (failingCmp) CompareDescriptions(context.Context, string, string) (float64, string, error) {
	return 0, "", context.DeadlineExceeded
}

// Cluster ids are monotonic and never reused.
func TestClusterIDsMonotonic(t *testing.T) {
	cmp := &scriptedCmp{score: 0}
	c := newTestClusterer(cmp, 0.5)
	ctx := context.Background()

	a := c.Assign(ctx, img("a.jpg", ""), det("one", ""))
	b := c.Assign(ctx, img("b.jpg", ""), det("two", ""))
	d := c.Assign(ctx, img("c.jpg", ""), det("three", ""))

	assert.Equal(t, []int{1, 2, 3}, []int{a.ID, b.ID, d.ID})
}
