package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Legacy annotation blobs predate the current index and nest their data
// under "annotation"/"extras" with underscore field names and per-source
// frequency keys. Current-format blobs are recognized by the presence of
// a top-level "populations" object and decode directly into Variant.

type legacyVariant struct {
	Chrom      string                    `json:"chrom"`
	Pos        int64                     `json:"pos"`
	Ref        string                    `json:"ref"`
	Alt        string                    `json:"alt"`
	Xpos       int64                     `json:"xpos"`
	Annotation *legacyAnnotation         `json:"annotation"`
	Extras     *legacyExtras             `json:"extras"`
	Genotypes  map[string]legacyGenotype `json:"genotypes"`
}

type legacyAnnotation struct {
	DB        string             `json:"db"`
	Freqs     map[string]float64 `json:"freqs"`
	PopCounts map[string]int     `json:"pop_counts"`

	CaddPhred        *float64 `json:"cadd_phred"`
	DannScore        *float64 `json:"dann_score"`
	EigenPhred       *float64 `json:"eigen_phred"`
	Fathmm           *string  `json:"fathmm"`
	GerpRS           *float64 `json:"GERP_RS"`
	PhastCons100Vert *float64 `json:"phastCons100way_vertebrate"`
	MPCScore         *float64 `json:"mpc_score"`
	Metasvm          *string  `json:"metasvm"`
	MutTaster        *string  `json:"muttaster"`
	Polyphen         *string  `json:"polyphen"`
	PrimateAIScore   *float64 `json:"primate_ai_score"`
	RevelScore       *float64 `json:"revel_score"`
	Sift             *string  `json:"sift"`
	SpliceAIScore    *float64 `json:"splice_ai_delta_score"`

	VepAnnotation []legacyTranscript `json:"vep_annotation"`
	WorstIndex    *int               `json:"worst_vep_annotation_index"`
	Main          *legacyTranscript  `json:"main_transcript"`
	RSID          *string            `json:"rsid"`
}

type legacyTranscript struct {
	Feature          *string `json:"feature"`
	TranscriptID     *string `json:"transcript_id"`
	TranscriptRank   *int    `json:"transcript_rank"`
	Gene             *string `json:"gene"`
	GeneID           *string `json:"gene_id"`
	GeneSymbol       *string `json:"gene_symbol"`
	Symbol           *string `json:"symbol"`
	Lof              *string `json:"lof"`
	LofFlags         *string `json:"lof_flags"`
	LofFilter        *string `json:"lof_filter"`
	AminoAcids       *string `json:"amino_acids"`
	Biotype          *string `json:"biotype"`
	Canonical        *string `json:"canonical"`
	CdnaPosition     *string `json:"cdna_position"`
	CdnaStart        *string `json:"cdna_start"`
	Codons           *string `json:"codons"`
	Consequence      *string `json:"consequence"`
	MajorConsequence *string `json:"major_consequence"`
	HGVSc            *string `json:"hgvsc"`
	HGVSp            *string `json:"hgvsp"`
}

type legacyExtras struct {
	GenomeVersion   string   `json:"genome_version"`
	Grch37Coords    string   `json:"grch37_coords"`
	Grch38Coords    string   `json:"grch38_coords"`
	ClinvarClinsig  *string  `json:"clinvar_clinsig"`
	ClinvarVariant  *string  `json:"clinvar_variant_id"`
	ClinvarAllele   *string  `json:"clinvar_allele_id"`
	ClinvarStars    *int     `json:"clinvar_gold_stars"`
	HGMDAccession   *string  `json:"hgmd_accession"`
	HGMDClass       *string  `json:"hgmd_class"`
	OrigAltAlleles  []string `json:"orig_alt_alleles"`
	FamilyID        string   `json:"family_id"`
	GenotypeFilters *string  `json:"filter"`
}

type legacyGenotype struct {
	AB     *float64              `json:"ab"`
	GQ     *float64              `json:"gq"`
	NumAlt *int                  `json:"num_alt"`
	Filter *string               `json:"filter"`
	Extras *legacyGenotypeExtras `json:"extras"`
}

type legacyGenotypeExtras struct {
	AD       *string       `json:"ad"`
	DP       *int          `json:"dp"`
	PL       *string       `json:"pl"`
	SampleID *string       `json:"sample_id"`
	CNVs     *GenotypeCNVs `json:"cnvs"`
}

// VariantFromSavedJSON decodes a saved variant's cached annotation blob
// into a Variant, converting legacy-format blobs field by field.
// individualGUIDsByID remaps legacy genotype keys (individual ids) to
// individual GUIDs; entries with no mapping keep the original key. HGMD
// class is withheld from non-staff callers.
func VariantFromSavedJSON(raw []byte, individualGUIDsByID map[string]string, staff bool) (*Variant, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty annotation blob")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decoding annotation blob: %w", err)
	}
	if _, ok := probe["populations"]; ok {
		var v Variant
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding annotation blob: %w", err)
		}
		if v.VariantID == "" {
			v.VariantID = v.ID()
		}
		return &v, nil
	}

	var lv legacyVariant
	if err := json.Unmarshal(raw, &lv); err != nil {
		return nil, fmt.Errorf("decoding legacy annotation blob: %w", err)
	}
	return variantFromLegacy(&lv, individualGUIDsByID, staff), nil
}

func variantFromLegacy(lv *legacyVariant, individualGUIDsByID map[string]string, staff bool) *Variant {
	ann := lv.Annotation
	if ann == nil {
		ann = &legacyAnnotation{}
	}
	extras := lv.Extras
	if extras == nil {
		extras = &legacyExtras{}
	}
	isES := ann.DB == "elasticsearch"

	v := &Variant{
		Chrom:           strings.TrimPrefix(lv.Chrom, "chr"),
		Pos:             lv.Pos,
		Ref:             lv.Ref,
		Alt:             lv.Alt,
		Xpos:            lv.Xpos,
		RSID:            ann.RSID,
		GenotypeFilters: extras.GenotypeFilters,
	}
	v.VariantID = v.ID()

	v.GenomeVersion = extras.GenomeVersion
	if v.GenomeVersion == "" {
		v.GenomeVersion = "37"
	}
	coords := extras.Grch38Coords
	v.LiftedOverGenomeVersion = "38"
	if v.GenomeVersion == "38" {
		v.LiftedOverGenomeVersion = "37"
		coords = extras.Grch37Coords
	}
	if parts := strings.SplitN(coords, "-", 2); parts[0] != "" {
		v.LiftedOverChrom = strings.TrimPrefix(parts[0], "chr")
		if len(parts) > 1 {
			v.LiftedOverPos = parts[1]
		}
	}

	for _, allele := range extras.OrigAltAlleles {
		segments := strings.Split(allele, "-")
		v.OriginalAltAlleles = append(v.OriginalAltAlleles, segments[len(segments)-1])
	}

	v.Genotypes = make(map[string]Genotype, len(lv.Genotypes))
	for id, lg := range lv.Genotypes {
		key := id
		if guid, ok := individualGUIDsByID[id]; ok {
			key = guid
		}
		g := Genotype{
			NumAlt: lg.NumAlt,
			AB:     lg.AB,
			GQ:     lg.GQ,
			Filter: lg.Filter,
		}
		if lg.Extras != nil {
			g.AD = lg.Extras.AD
			g.DP = lg.Extras.DP
			g.PL = lg.Extras.PL
			g.CNVs = lg.Extras.CNVs
			if lg.Extras.SampleID != nil {
				g.SampleID = *lg.Extras.SampleID
			}
		}
		v.Genotypes[key] = g
	}

	v.Transcripts = make(map[string][]Transcript)
	for i, lt := range ann.VepAnnotation {
		chosen := ann.WorstIndex != nil && i == *ann.WorstIndex
		t := transcriptDetail(&lt, chosen)
		v.Transcripts[t.GeneID] = append(v.Transcripts[t.GeneID], t)
	}

	main := ann.Main
	if main == nil && ann.WorstIndex != nil && *ann.WorstIndex >= 0 && *ann.WorstIndex < len(ann.VepAnnotation) {
		main = &ann.VepAnnotation[*ann.WorstIndex]
	}
	if main != nil {
		v.MainTranscript = transcriptDetail(main, true)
	}

	v.Predictions = Predictions{
		Cadd:             ann.CaddPhred,
		Dann:             ann.DannScore,
		Eigen:            ann.EigenPhred,
		Fathmm:           ann.Fathmm,
		GerpRS:           ann.GerpRS,
		Phastcons100Vert: ann.PhastCons100Vert,
		MPC:              ann.MPCScore,
		Metasvm:          ann.Metasvm,
		MutTaster:        ann.MutTaster,
		Polyphen:         ann.Polyphen,
		PrimateAI:        ann.PrimateAIScore,
		Revel:            ann.RevelScore,
		Sift:             ann.Sift,
		SpliceAI:         ann.SpliceAIScore,
	}

	v.Populations = map[string]Population{
		"callset": {
			AF: freq(ann.Freqs, "AF"),
			AC: count(ann.PopCounts, "AC"),
			AN: count(ann.PopCounts, "AN"),
		},
		"topmed": {
			AF: freq(ann.Freqs, "topmed_AF"),
			AC: count(ann.PopCounts, "topmed_AC"),
			AN: count(ann.PopCounts, "topmed_AN"),
		},
		"g1k": {
			AF: freqChain(ann.Freqs, isES,
				"1kg_wgs_popmax_AF", "1kg_wgs_AF",
				"1kg_wgs_phase3_popmax", "1kg_wgs_phase3", true),
			AC: count(ann.PopCounts, "g1kAC"),
			AN: count(ann.PopCounts, "g1kAN"),
		},
		"exac": {
			AF: freqChain(ann.Freqs, isES,
				"exac_v3_popmax_AF", "exac_v3_AF",
				"exac_v3_popmax", "exac_v3", true),
			AC:   count(ann.PopCounts, "exac_v3_AC"),
			AN:   count(ann.PopCounts, "exac_v3_AN"),
			Hom:  count(ann.PopCounts, "exac_v3_Hom"),
			Hemi: count(ann.PopCounts, "exac_v3_Hemi"),
		},
		"gnomad_exomes": {
			AF: freqChain(ann.Freqs, isES,
				"gnomad_exomes_popmax_AF", "gnomad_exomes_AF",
				"gnomad-exomes2_popmax", "gnomad-exomes2", false),
			AC:   count(ann.PopCounts, "gnomad_exomes_AC"),
			AN:   count(ann.PopCounts, "gnomad_exomes_AN"),
			Hom:  count(ann.PopCounts, "gnomad_exomes_Hom"),
			Hemi: count(ann.PopCounts, "gnomad_exomes_Hemi"),
		},
		"gnomad_genomes": {
			AF: freqChain(ann.Freqs, isES,
				"gnomad_genomes_popmax_AF", "gnomad_genomes_AF",
				"gnomad-gnomad-genomes2_popmax", "gnomad-genomes2", false),
			AC:   count(ann.PopCounts, "gnomad_genomes_AC"),
			AN:   count(ann.PopCounts, "gnomad_genomes_AN"),
			Hom:  count(ann.PopCounts, "gnomad_genomes_Hom"),
			Hemi: count(ann.PopCounts, "gnomad_genomes_Hemi"),
		},
	}

	v.Clinvar = Clinvar{
		ClinSig:   extras.ClinvarClinsig,
		VariantID: extras.ClinvarVariant,
		AlleleID:  extras.ClinvarAllele,
		GoldStars: extras.ClinvarStars,
	}
	v.HGMD = HGMD{Accession: extras.HGMDAccession}
	if staff {
		v.HGMD.Class = extras.HGMDClass
	}

	return v
}

// transcriptDetail normalizes a legacy transcript record. Old blobs use
// feature/gene/gene_symbol/consequence/cdna_position, newer ones use
// transcript_id/gene_id/symbol/major_consequence/cdna_start; the first
// present name wins in each pair.
func transcriptDetail(lt *legacyTranscript, chosen bool) Transcript {
	rank := 100
	if chosen {
		rank = 0
	} else if lt.TranscriptRank != nil {
		rank = *lt.TranscriptRank
	}
	return Transcript{
		TranscriptID:     strChain(lt.Feature, lt.TranscriptID),
		TranscriptRank:   rank,
		GeneID:           strChain(lt.Gene, lt.GeneID),
		GeneSymbol:       strChain(lt.GeneSymbol, lt.Symbol),
		Lof:              lt.Lof,
		LofFlags:         lt.LofFlags,
		LofFilter:        lt.LofFilter,
		AminoAcids:       lt.AminoAcids,
		Biotype:          lt.Biotype,
		Canonical:        lt.Canonical,
		CdnaPosition:     strPtrChain(lt.CdnaPosition, lt.CdnaStart),
		Codons:           lt.Codons,
		MajorConsequence: strPtrChain(lt.Consequence, lt.MajorConsequence),
		HGVSc:            lt.HGVSc,
		HGVSp:            lt.HGVSp,
	}
}

func strChain(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func strPtrChain(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}

func freq(freqs map[string]float64, key string) *float64 {
	if f, ok := freqs[key]; ok {
		return &f
	}
	return nil
}

func count(counts map[string]int, key string) *int {
	if c, ok := counts[key]; ok {
		return &c
	}
	return nil
}

// freqChain applies the per-source frequency fallback: popmax then plain.
// Index-sourced records always resolve, falling back to a literal 0;
// legacy records fall back to 0 only when zeroDefault is set and to nil
// otherwise.
func freqChain(freqs map[string]float64, isES bool, esPopmax, esPlain, legacyPopmax, legacyPlain string, zeroDefault bool) *float64 {
	popmaxKey, plainKey := legacyPopmax, legacyPlain
	if isES {
		popmaxKey, plainKey = esPopmax, esPlain
		zeroDefault = true
	}
	if f := freq(freqs, popmaxKey); f != nil {
		return f
	}
	if f := freq(freqs, plainKey); f != nil {
		return f
	}
	if zeroDefault {
		zero := 0.0
		return &zero
	}
	return nil
}
