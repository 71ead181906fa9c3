// Package resolve clusters noisy holder-name variants into canonical
// identities, scoped to a single ticker.
//
// Filings spell the same investor many ways ("ABC Capital Pty Ltd",
// "ABC Capital Pty. Limited"). Clustering is a greedy first-match pass:
// each name is compared against the representatives of the clusters formed
// so far; the first representative scoring at or above the threshold
// absorbs it, otherwise the name founds a new cluster with itself as
// representative. Membership only grows, names are never re-clustered
// mid-run, which keeps assignment deterministic and idempotent for a
// given encounter order.
//
// Identity is never resolved across tickers: the same investor under two
// tickers gets independent clusters.
package resolve

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// DefaultThreshold is the canonical similarity cut-off. Historical
// pipeline variants drifted between 60 and 90; 90 is the reviewed value.
const DefaultThreshold = 90

// Options tunes clustering.
type Options struct {
	// Threshold is the minimum 0-100 similarity for a name to join an
	// existing cluster. Default: DefaultThreshold.
	Threshold int
}

func (o *Options) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
}

// Cluster is one canonical identity: the first-seen representative name
// and every raw variant assigned to it, in encounter order.
type Cluster struct {
	Representative string
	Members        []string
}

// Clusters accumulates the canonical identities for one ticker.
type Clusters struct {
	opts     Options
	clusters []*Cluster
	assigned map[string]string // raw name -> representative
	metric   *metrics.Levenshtein
}

// New returns an empty per-ticker cluster set.
func New(opts Options) *Clusters {
	opts.defaults()
	return &Clusters{
		opts:     opts,
		assigned: make(map[string]string),
		metric:   metrics.NewLevenshtein(),
	}
}

// Assign maps a raw name to its canonical representative, creating a new
// cluster when nothing existing is similar enough. Re-assigning a name
// already seen returns its existing representative unchanged.
func (c *Clusters) Assign(raw string) string {
	if rep, ok := c.assigned[raw]; ok {
		return rep
	}
	norm := Normalize(raw)
	for _, cl := range c.clusters {
		if c.score(norm, Normalize(cl.Representative)) >= c.opts.Threshold {
			cl.Members = append(cl.Members, raw)
			c.assigned[raw] = cl.Representative
			return cl.Representative
		}
	}
	cl := &Cluster{Representative: raw, Members: []string{raw}}
	c.clusters = append(c.clusters, cl)
	c.assigned[raw] = raw
	return raw
}

// Seed loads assignments from a previous run so membership keeps growing
// across runs instead of re-clustering. Pairs are applied in sorted raw
// name order for determinism; existing assignments win over the seed.
func (c *Clusters) Seed(assigned map[string]string) {
	raws := make([]string, 0, len(assigned))
	for raw := range assigned {
		raws = append(raws, raw)
	}
	sort.Strings(raws)
	for _, raw := range raws {
		rep := assigned[raw]
		if _, ok := c.assigned[raw]; ok {
			continue
		}
		cl := c.clusterFor(rep)
		if cl == nil {
			cl = &Cluster{Representative: rep}
			c.clusters = append(c.clusters, cl)
		}
		cl.Members = append(cl.Members, raw)
		c.assigned[raw] = rep
	}
}

func (c *Clusters) clusterFor(rep string) *Cluster {
	for _, cl := range c.clusters {
		if cl.Representative == rep {
			return cl
		}
	}
	return nil
}

// Mapping returns the raw-name to representative map built so far.
func (c *Clusters) Mapping() map[string]string {
	out := make(map[string]string, len(c.assigned))
	for k, v := range c.assigned {
		out[k] = v
	}
	return out
}

// All returns the clusters in creation order.
func (c *Clusters) All() []Cluster {
	out := make([]Cluster, len(c.clusters))
	for i, cl := range c.clusters {
		out[i] = *cl
	}
	return out
}

func (c *Clusters) score(a, b string) int {
	return int(strutil.Similarity(a, b, c.metric)*100 + 0.5)
}

// Map clusters the given names in order and returns the raw-to-canonical
// mapping. Convenience over New + Assign for single-shot use.
func Map(names []string, opts Options) map[string]string {
	c := New(opts)
	for _, n := range names {
		c.Assign(n)
	}
	return c.Mapping()
}

// Similarity scores two names 0-100 after normalisation, using the same
// metric clustering uses.
func Similarity(a, b string) int {
	lev := metrics.NewLevenshtein()
	return int(strutil.Similarity(Normalize(a), Normalize(b), lev)*100 + 0.5)
}

// suffixFolds map long legal-entity suffix spellings onto their short
// forms so suffix drift does not dominate the edit distance.
var suffixFolds = map[string]string{
	"limited":      "ltd",
	"proprietary":  "pty",
	"incorporated": "inc",
	"corporation":  "corp",
	"company":      "co",
	"holdings":     "hldgs",
	"nominees":     "noms",
}

// Normalize lowercases a name, strips punctuation, folds legal-entity
// suffix spellings and sorts the tokens, so token order and suffix style
// stop mattering to the similarity score.
func Normalize(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	tokens := strings.Fields(b.String())
	for i, t := range tokens {
		if short, ok := suffixFolds[t]; ok {
			tokens[i] = short
		}
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
