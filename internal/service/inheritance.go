package service

import (
	"github.com/variant-curation-server/internal/domain"
)

// GenotypeClassifier derives candidate inheritance models for a variant
// from its per-individual genotypes and the family's affected statuses.
// Classification is pure: individuals with no loaded genotype or an
// unknown affected status are ignored.
type GenotypeClassifier struct{}

// NewGenotypeClassifier creates a new genotype classifier
func NewGenotypeClassifier() *GenotypeClassifier {
	return &GenotypeClassifier{}
}

// ClassificationResult holds the inheritance models assigned to one
// variant plus its compound-het candidacy.
type ClassificationResult struct {
	Models               domain.InheritanceSet
	CompoundHetCandidate bool
}

// Classify buckets each genotype by zygosity and affected status, then
// applies the model rules:
//
//   - no unaffected hom-alt and some affected hom-alt: X-linked on an X
//     chromosome, AR-homozygote otherwise
//   - no unaffected carriers, some affected het, no affected hom-alt:
//     de novo when unaffected individuals exist, AD when none do
//   - compound-het candidate: no unaffected hom-alt, fewer than two
//     unaffected individuals or at least one unaffected het, at least one
//     affected het, no affected hom-alt
//
// affected and unaffected are sets of individual GUIDs; genotype map keys
// that appear in neither set do not contribute.
func (c *GenotypeClassifier) Classify(variant *domain.Variant, affected, unaffected map[string]struct{}) ClassificationResult {
	var affectedHomAlt, affectedHet, unaffectedHomAlt, unaffectedHet int

	for guid, genotype := range variant.Genotypes {
		if genotype.NumAlt == nil {
			continue
		}
		_, isAffected := affected[guid]
		_, isUnaffected := unaffected[guid]
		switch {
		case *genotype.NumAlt == 2 && isAffected:
			affectedHomAlt++
		case *genotype.NumAlt == 1 && isAffected:
			affectedHet++
		case *genotype.NumAlt == 2 && isUnaffected:
			unaffectedHomAlt++
		case *genotype.NumAlt == 1 && isUnaffected:
			unaffectedHet++
		}
	}

	models := domain.NewInheritanceSet()

	if unaffectedHomAlt == 0 && affectedHomAlt > 0 {
		if variant.IsXLinked() {
			models.Add(domain.XLinked)
		} else {
			models.Add(domain.ARHomozygote)
		}
	}

	if unaffectedHomAlt == 0 && unaffectedHet == 0 && affectedHet > 0 && affectedHomAlt == 0 {
		if len(unaffected) > 0 {
			models.Add(domain.DeNovo)
		} else {
			models.Add(domain.AutosomalDominant)
		}
	}

	candidate := unaffectedHomAlt == 0 &&
		(len(unaffected) < 2 || unaffectedHet > 0) &&
		affectedHet > 0 &&
		affectedHomAlt == 0

	return ClassificationResult{Models: models, CompoundHetCandidate: candidate}
}
