// Package content assigns captions and hashtag sets to every (item, variant)
// pair of a request.
package content

import (
	"math/rand/v2"
	"slices"
	"strings"
)

const (
	minTags = 6
	maxTags = 10
	// rotationStep spaces the hashtag windows of consecutive assignments.
	rotationStep = 3
)

// Assignment is the caption and hashtag set bound to one (item, variant).
type Assignment struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

// Empty reports whether the assignment carries no content (no-caption mode).
func (a Assignment) Empty() bool {
	return a.Caption == "" && len(a.Hashtags) == 0
}

// Text renders the caption followed by the hashtags on their own paragraph.
func (a Assignment) Text() string {
	tags := strings.Join(a.Hashtags, " ")
	switch {
	case a.Caption == "":
		return tags
	case tags == "":
		return a.Caption
	default:
		return a.Caption + "\n\n" + tags
	}
}

// Allocator draws assignments from a pair of pools. It is not safe for
// concurrent use; build one per request.
type Allocator struct {
	pools Pools
	rnd   *rand.Rand
}

func NewAllocator(pools Pools, rnd *rand.Rand) *Allocator {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Allocator{pools: pools, rnd: rnd}
}

// Allocate returns total assignments, indexed by global ordinal. With
// noCaption every assignment is empty and the pools are not consulted.
func (a *Allocator) Allocate(total int, noCaption bool) []Assignment {
	if total <= 0 {
		return nil
	}
	out := make([]Assignment, total)
	if noCaption {
		for i := range out {
			out[i] = Assignment{Hashtags: []string{}}
		}
		return out
	}

	captions := a.shuffled(a.pools.Captions)
	tags := a.shuffled(a.pools.Hashtags)

	for k := range out {
		out[k] = Assignment{
			Caption:  captions[k%len(captions)],
			Hashtags: a.pickTags(tags, k),
		}
	}
	return out
}

func (a *Allocator) pickTags(pool []string, k int) []string {
	n := len(pool)
	want := minTags + a.rnd.IntN(maxTags-minTags+1)
	if want > n {
		want = n
	}

	offset := (k * rotationStep) % n
	chosen := make([]string, 0, want)
	seen := make(map[string]struct{}, want)
	for i := 0; i < n && len(chosen) < want; i++ {
		tag := pool[(offset+i)%n]
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		chosen = append(chosen, tag)
	}

	a.rnd.Shuffle(len(chosen), func(i, j int) { chosen[i], chosen[j] = chosen[j], chosen[i] })
	return chosen
}

func (a *Allocator) shuffled(in []string) []string {
	out := slices.Clone(in)
	a.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
