package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/variant-curation-server/pkg/xpos"
)

// InheritanceModel is a single inheritance-pattern classification derived
// from per-sample genotypes within one family.
type InheritanceModel string

const (
	ARHomozygote      InheritanceModel = "AR-homozygote"
	ARCompHet         InheritanceModel = "AR-comphet"
	AutosomalDominant InheritanceModel = "AD"
	DeNovo            InheritanceModel = "de novo"
	XLinked           InheritanceModel = "X-linked"
)

// InheritanceSet is a set of candidate inheritance models for one variant.
// It is recomputed on every search or report pass and never persisted,
// since it depends on family composition at classification time.
type InheritanceSet map[InheritanceModel]struct{}

// NewInheritanceSet builds a set from the given models.
func NewInheritanceSet(models ...InheritanceModel) InheritanceSet {
	s := make(InheritanceSet, len(models))
	for _, m := range models {
		s[m] = struct{}{}
	}
	return s
}

// Add inserts a model into the set.
func (s InheritanceSet) Add(m InheritanceModel) { s[m] = struct{}{} }

// Has reports whether the set contains the model.
func (s InheritanceSet) Has(m InheritanceModel) bool {
	_, ok := s[m]
	return ok
}

// Sorted returns the models in stable lexical order.
func (s InheritanceSet) Sorted() []InheritanceModel {
	models := make([]InheritanceModel, 0, len(s))
	for m := range s {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i] < models[j] })
	return models
}

// String joins the sorted models with ", " for report output.
func (s InheritanceSet) String() string {
	parts := make([]string, 0, len(s))
	for _, m := range s.Sorted() {
		parts = append(parts, string(m))
	}
	return strings.Join(parts, ", ")
}

// Genotype is one individual's call for a variant. NumAlt counts alternate
// alleles (0 hom-ref, 1 het, 2 hom-alt); a nil NumAlt is a no-call.
type Genotype struct {
	SampleID string        `json:"sampleId,omitempty"`
	NumAlt   *int          `json:"numAlt"`
	AD       *string       `json:"ad"`
	DP       *int          `json:"dp"`
	GQ       *float64      `json:"gq"`
	AB       *float64      `json:"ab"`
	PL       *string       `json:"pl,omitempty"`
	Filter   *string       `json:"filter,omitempty"`
	CNVs     *GenotypeCNVs `json:"cnvs,omitempty"`
}

// GenotypeCNVs carries copy-number call details attached to a genotype.
type GenotypeCNVs struct {
	Array     *string  `json:"array"`
	Caller    *string  `json:"caller"`
	CN        *int     `json:"cn"`
	Freq      *float64 `json:"freq"`
	LRRMedian *float64 `json:"LRR_median"`
	LRRSD     *float64 `json:"LRR_sd"`
	Size      *int     `json:"size"`
	SNPs      *string  `json:"snps"`
	Type      *string  `json:"type"`
}

// Transcript is one consequence annotation for a variant. Rank 0 is
// reserved for the main transcript; every other transcript carries its
// provided rank or the default 100.
type Transcript struct {
	TranscriptID     string  `json:"transcriptId"`
	TranscriptRank   int     `json:"transcriptRank"`
	GeneID           string  `json:"geneId"`
	GeneSymbol       string  `json:"geneSymbol"`
	Lof              *string `json:"lof"`
	LofFlags         *string `json:"lofFlags"`
	LofFilter        *string `json:"lofFilter"`
	AminoAcids       *string `json:"aminoAcids"`
	Biotype          *string `json:"biotype"`
	Canonical        *string `json:"canonical"`
	CdnaPosition     *string `json:"cdnaPosition"`
	Codons           *string `json:"codons"`
	MajorConsequence *string `json:"majorConsequence"`
	HGVSc            *string `json:"hgvsc"`
	HGVSp            *string `json:"hgvsp"`
}

// Predictions holds in-silico pathogenicity predictions. Letter-coded
// predictors keep their raw codes; display mapping happens client-side.
type Predictions struct {
	Cadd             *float64 `json:"cadd"`
	Dann             *float64 `json:"dann"`
	Eigen            *float64 `json:"eigen"`
	Fathmm           *string  `json:"fathmm"`
	GerpRS           *float64 `json:"gerp_rs"`
	Phastcons100Vert *float64 `json:"phastcons_100_vert"`
	MPC              *float64 `json:"mpc"`
	Metasvm          *string  `json:"metasvm"`
	MutTaster        *string  `json:"mut_taster"`
	Polyphen         *string  `json:"polyphen"`
	PrimateAI        *float64 `json:"primate_ai"`
	Revel            *float64 `json:"revel"`
	Sift             *string  `json:"sift"`
	SpliceAI         *float64 `json:"splice_ai"`
}

// Population is one callset's frequency record. AF stays nil only for
// legacy records whose source never computed the frequency; index-sourced
// records fall back to a literal 0 instead.
type Population struct {
	AF   *float64 `json:"af"`
	AC   *int     `json:"ac"`
	AN   *int     `json:"an"`
	Hom  *int     `json:"hom,omitempty"`
	Hemi *int     `json:"hemi,omitempty"`
}

// Clinvar holds the ClinVar annotation attached to a variant.
type Clinvar struct {
	ClinSig   *string `json:"clinsig"`
	VariantID *string `json:"variantId"`
	AlleleID  *string `json:"alleleId"`
	GoldStars *int    `json:"goldStars"`
}

// HGMD holds the HGMD annotation; Class is only populated for staff users.
type HGMD struct {
	Accession *string `json:"accession"`
	Class     *string `json:"class"`
}

// Variant is an annotated variant record within a family context. It is
// immutable once fetched from the index or decoded from a SavedVariant;
// enrichment (inheritance, locus lists) is attached in memory only.
type Variant struct {
	VariantID   string   `json:"variantId"`
	Xpos        int64    `json:"xpos"`
	Chrom       string   `json:"chrom"`
	Pos         int64    `json:"pos"`
	Ref         string   `json:"ref"`
	Alt         string   `json:"alt"`
	FamilyGUIDs []string `json:"familyGuids"`

	Genotypes       map[string]Genotype     `json:"genotypes"`
	GenotypeFilters *string                 `json:"genotypeFilters"`
	MainTranscript  Transcript              `json:"mainTranscript"`
	Transcripts     map[string][]Transcript `json:"transcripts"`
	Predictions     Predictions             `json:"predictions"`
	Populations     map[string]Population   `json:"populations"`
	Clinvar         Clinvar                 `json:"clinvar"`
	HGMD            HGMD                    `json:"hgmd"`
	RSID            *string                 `json:"rsid"`

	GenomeVersion           string   `json:"genomeVersion,omitempty"`
	LiftedOverGenomeVersion string   `json:"liftedOverGenomeVersion,omitempty"`
	LiftedOverChrom         string   `json:"liftedOverChrom,omitempty"`
	LiftedOverPos           string   `json:"liftedOverPos,omitempty"`
	OriginalAltAlleles      []string `json:"originalAltAlleles,omitempty"`

	LocusListGUIDs []string       `json:"locusListGuids,omitempty"`
	Inheritance    InheritanceSet `json:"inheritance,omitempty"`
}

// VariantKey identifies a variant independent of family context.
type VariantKey struct {
	Xpos int64
	Ref  string
	Alt  string
}

// Key returns the variant's family-independent identity.
func (v *Variant) Key() VariantKey {
	return VariantKey{Xpos: v.Xpos, Ref: v.Ref, Alt: v.Alt}
}

// ID returns the canonical "chrom-pos-ref-alt" identifier.
func (v *Variant) ID() string {
	return fmt.Sprintf("%s-%d-%s-%s", v.Chrom, v.Pos, v.Ref, v.Alt)
}

// IsXLinked reports whether the variant lies on an X chromosome. The label
// is substring-matched so "X", "chrX" and pseudo-autosomal labels all
// qualify; records with a bare xpos and no label fall back to the xpos
// range.
func (v *Variant) IsXLinked() bool {
	return strings.Contains(v.Chrom, "X") || xpos.IsX(v.Xpos)
}

// GeneIDs lists every gene the variant's transcripts touch, sorted for
// deterministic iteration.
func (v *Variant) GeneIDs() []string {
	ids := make([]string, 0, len(v.Transcripts))
	for id := range v.Transcripts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MainGeneID returns the gene of the main transcript, or "" if the variant
// carries no transcript annotation.
func (v *Variant) MainGeneID() string {
	return v.MainTranscript.GeneID
}

// VariantIDFromKey formats a key as a "chrom-pos-ref-alt" identifier.
func VariantIDFromKey(key VariantKey) (string, error) {
	chrom, pos, err := xpos.Decode(key.Xpos)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%s-%s", chrom, pos, key.Ref, key.Alt), nil
}
