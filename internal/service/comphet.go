package service

import (
	"sort"

	"github.com/variant-curation-server/internal/domain"
)

// VariantKeySet is a set of family-independent variant identities.
type VariantKeySet map[domain.VariantKey]struct{}

// Equal reports whether both sets contain exactly the same keys.
func (s VariantKeySet) Equal(other VariantKeySet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

func (s VariantKeySet) clone() VariantKeySet {
	out := make(VariantKeySet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// CompoundHetGrouper assigns every classified variant of one family to
// exactly one gene group for reporting.
type CompoundHetGrouper struct{}

// NewCompoundHetGrouper creates a new compound-het grouper
func NewCompoundHetGrouper() *CompoundHetGrouper {
	return &CompoundHetGrouper{}
}

// Group promotes candidate gene sets with two or more variants into
// compound-het groups, then attributes every remaining variant to its
// main-transcript gene.
//
// Genes whose promoted variant sets are identical collapse into a single
// group: a later gene takes the set over from an earlier one only when it
// is the main-transcript gene of one of the contributing variants.
// Candidate genes are visited in sorted order, so the surviving gene is
// deterministic. Promoted variants get their inheritance replaced with
// {AR-comphet}; singletons keep their classified models.
//
// The returned group map holds the per-gene variant sets; the inheritance
// map holds the union of models reported for each gene.
func (g *CompoundHetGrouper) Group(
	candidates map[string]VariantKeySet,
	variants map[domain.VariantKey]*domain.Variant,
) (map[string]VariantKeySet, map[string]domain.InheritanceSet) {
	groups := make(map[string]VariantKeySet)
	geneInheritance := make(map[string]domain.InheritanceSet)

	candidateGenes := make([]string, 0, len(candidates))
	for geneID := range candidates {
		candidateGenes = append(candidateGenes, geneID)
	}
	sort.Strings(candidateGenes)

	for _, geneID := range candidateGenes {
		candidateSet := candidates[geneID]
		if len(candidateSet) < 2 {
			continue
		}
		addGeneInheritance(geneInheritance, geneID, domain.ARCompHet)

		if existing := g.findEqualGroup(groups, candidateSet); existing != "" {
			// the same variant pair already reported under another gene;
			// take it over only when this gene is a main-transcript gene
			// of one of the variants
			if g.isMainGene(geneID, candidateSet, variants) {
				groups[geneID] = groups[existing]
				delete(groups, existing)
			}
			continue
		}

		for key := range candidateSet {
			variants[key].Inheritance = domain.NewInheritanceSet(domain.ARCompHet)
		}
		groups[geneID] = candidateSet.clone()
	}

	// non-promoted variants report under their main-transcript gene
	keys := make([]domain.VariantKey, 0, len(variants))
	for key := range variants {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })

	for _, key := range keys {
		variant := variants[key]
		if variant.Inheritance.Has(domain.ARCompHet) {
			continue
		}
		geneID := variant.MainGeneID()
		if groups[geneID] == nil {
			groups[geneID] = make(VariantKeySet)
		}
		groups[geneID][key] = struct{}{}
		for model := range variant.Inheritance {
			addGeneInheritance(geneInheritance, geneID, model)
		}
	}

	return groups, geneInheritance
}

func (g *CompoundHetGrouper) findEqualGroup(groups map[string]VariantKeySet, set VariantKeySet) string {
	geneIDs := make([]string, 0, len(groups))
	for geneID := range groups {
		geneIDs = append(geneIDs, geneID)
	}
	sort.Strings(geneIDs)
	for _, geneID := range geneIDs {
		if groups[geneID].Equal(set) {
			return geneID
		}
	}
	return ""
}

func (g *CompoundHetGrouper) isMainGene(geneID string, set VariantKeySet, variants map[domain.VariantKey]*domain.Variant) bool {
	for key := range set {
		if variants[key].MainGeneID() == geneID {
			return true
		}
	}
	return false
}

func addGeneInheritance(geneInheritance map[string]domain.InheritanceSet, geneID string, model domain.InheritanceModel) {
	if geneInheritance[geneID] == nil {
		geneInheritance[geneID] = domain.NewInheritanceSet()
	}
	geneInheritance[geneID].Add(model)
}

func lessKey(a, b domain.VariantKey) bool {
	if a.Xpos != b.Xpos {
		return a.Xpos < b.Xpos
	}
	if a.Ref != b.Ref {
		return a.Ref < b.Ref
	}
	return a.Alt < b.Alt
}
