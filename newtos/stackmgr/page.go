package stackmgr

import "math/bits"

// SubPagesPerPage is fixed by the MMU's sub-page access bits.
const SubPagesPerPage = 4

const allSubPages uint8 = 1<<SubPagesPerPage - 1

// StackPage is one physical page whose sub-pages may back different
// StackInfos, each at the sub-page position it occupies in its own
// virtual page.
type StackPage struct {
	phys     uint32
	data     []byte
	free     uint8 // bit n set: sub-page n unowned
	owners   [SubPagesPerPage]*StackInfo
	vaddr    [SubPagesPerPage]uint32
	list     pageList
	listSlot int
}

// Phys returns the physical base address of the page.
func (p *StackPage) Phys() uint32 { return p.phys }

// FreeMask returns the free sub-page bitmask.
func (p *StackPage) FreeMask() uint8 { return p.free }

type pageList uint8

const (
	listFree pageList = iota
	listPartial
	listFull
	numLists
)

// pagePool buckets pages by occupancy so allocation scans only pages that
// still have a free sub-page.
type pagePool struct {
	lists [numLists][]*StackPage
	total int
}

func listFor(free uint8) pageList {
	switch free {
	case allSubPages:
		return listFree
	case 0:
		return listFull
	default:
		return listPartial
	}
}

func (pp *pagePool) add(p *StackPage) {
	p.list = listFor(p.free)
	p.listSlot = len(pp.lists[p.list])
	pp.lists[p.list] = append(pp.lists[p.list], p)
	pp.total++
}

func (pp *pagePool) unlink(p *StackPage) {
	l := pp.lists[p.list]
	last := l[len(l)-1]
	l[p.listSlot] = last
	last.listSlot = p.listSlot
	pp.lists[p.list] = l[:len(l)-1]
}

// update rebuckets p after its free mask changed.
func (pp *pagePool) update(p *StackPage) {
	want := listFor(p.free)
	if want == p.list {
		return
	}
	pp.unlink(p)
	p.list = want
	p.listSlot = len(pp.lists[want])
	pp.lists[want] = append(pp.lists[want], p)
}

func (pp *pagePool) freeSubPages() int {
	n := len(pp.lists[listFree]) * SubPagesPerPage
	for _, p := range pp.lists[listPartial] {
		n += bits.OnesCount8(p.free)
	}
	return n
}

// matchScore[want][free] rates how well a page with free mask `free` suits a
// virtual page that may eventually use sub-pages `want`. Pages that can take
// every wanted sub-page win; among those, the one wasting the fewest free
// slots wins. Zero means unusable.
var matchScore [1 << SubPagesPerPage][1 << SubPagesPerPage]int8

func init() {
	for want := 0; want <= int(allSubPages); want++ {
		for free := 0; free <= int(allSubPages); free++ {
			cover := want & free
			if cover == 0 {
				continue
			}
			missing := bits.OnesCount8(uint8(want &^ free))
			waste := bits.OnesCount8(uint8(free &^ want))
			score := 1 + 4*bits.OnesCount8(uint8(cover)) - 2*missing - waste
			if missing == 0 {
				score += 16
			}
			if score < 1 {
				score = 1
			}
			matchScore[want][free] = int8(score)
		}
	}
}

// bestPage picks the page best suited to `want` that has sub-page `slot`
// free. Partially used pages beat empty ones at equal score to keep pages
// densely packed.
func (pp *pagePool) bestPage(want uint8, slot uint) *StackPage {
	var best *StackPage
	bestScore := int8(0)
	for _, l := range []pageList{listPartial, listFree} {
		for _, p := range pp.lists[l] {
			if p.free&(1<<slot) == 0 {
				continue
			}
			if s := matchScore[want][p.free]; s > bestScore {
				best, bestScore = p, s
			}
		}
	}
	return best
}

// pageWithFree returns a page whose free mask covers need.
func (pp *pagePool) pageWithFree(need uint8, exclude *StackPage) *StackPage {
	var best *StackPage
	bestWaste := SubPagesPerPage + 1
	for _, l := range []pageList{listPartial, listFree} {
		for _, p := range pp.lists[l] {
			if p == exclude || p.free&need != need {
				continue
			}
			if w := bits.OnesCount8(p.free &^ need); w < bestWaste {
				best, bestWaste = p, w
			}
		}
	}
	return best
}
