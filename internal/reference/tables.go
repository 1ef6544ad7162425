// Package reference holds process-wide immutable lookup tables used by
// report generation. Tables are defined once at init and callers receive
// copies, never the underlying maps.
package reference

import (
	"strings"
)

// HPOCategoryNames maps the direct children of HP:0000118 "Phenotypic
// abnormality" to their display names.
// See http://compbio.charite.de/hpoweb/showterm?id=HP:0000118
var HPOCategoryNames = map[string]string{
	"HP:0000478": "Eye Defects",
	"HP:0025142": "Constitutional Symptom",
	"HP:0002664": "Neoplasm",
	"HP:0000818": "Endocrine System",
	"HP:0000152": "Head or Neck",
	"HP:0002715": "Immune System",
	"HP:0001507": "Growth",
	"HP:0045027": "Thoracic Cavity",
	"HP:0001871": "Blood",
	"HP:0002086": "Respiratory",
	"HP:0000598": "Ear Defects",
	"HP:0001939": "Metabolism/Homeostasis",
	"HP:0003549": "Connective Tissue",
	"HP:0001608": "Voice",
	"HP:0000707": "Nervous System",
	"HP:0000769": "Breast",
	"HP:0001197": "Prenatal development or birth",
	"HP:0040064": "Limbs",
	"HP:0025031": "Abdomen",
	"HP:0003011": "Musculature",
	"HP:0001626": "Cardiovascular System",
	"HP:0000924": "Skeletal System",
	"HP:0500014": "Test Result",
	"HP:0001574": "Integument",
	"HP:0000119": "Genitourinary System",
	"HP:0025354": "Cellular Phenotype",
}

// HPOCategoryRowKey converts an HPO category display name into its report
// column key ("Metabolism/Homeostasis" -> "metabolism_homeostasis").
func HPOCategoryRowKey(name string) string {
	key := strings.ToLower(name)
	key = strings.ReplaceAll(key, " ", "_")
	return strings.ReplaceAll(key, "/", "_")
}

// defaultRow is the report row template. Every generated row starts as a
// copy of this map before family and gene specific values are overlaid.
var defaultRow = map[string]interface{}{
	"t0":              nil,
	"t0_copy":         nil,
	"months_since_t0": nil,

	"sample_source":              "CMG",
	"analysis_complete_status":   "complete",
	"expected_inheritance_model": "multiple",
	"actual_inheritance_model":   "",
	"n_kindreds":                 "1",
	"gene_name":                  "NS",
	"novel_mendelian_gene":       "NS",
	"gene_count":                 "NA",
	"phenotype_class":            "New",
	"solved":                     "N",
	"genome_wide_linkage":        "NS",
	"p_value":                    "NS",

	"n_kindreds_overlapping_sv_similar_phenotype":       "NS",
	"n_unrelated_kindreds_with_causal_variants_in_gene": "NS",

	"biochemical_function":         "NS",
	"protein_interaction":          "NS",
	"expression":                   "NS",
	"rescue":                       "NS",
	"patient_cells":                "NS",
	"non_patient_cell_model":       "NS",
	"animal_model":                 "NS",
	"non_human_cell_culture_model": "NS",

	"omim_number_initial":        "NA",
	"omim_number_post_discovery": "NA",
	"submitted_to_mme":           "NS",
	"posted_publicly":            "NS",
	"komp_early_release":         "NS",
	"pubmed_ids":                 "",
}

// hpoRowKeys are the per-category phenotype columns, all defaulting to "N".
var hpoRowKeys = []string{
	"connective_tissue",
	"voice",
	"nervous_system",
	"breast",
	"eye_defects",
	"prenatal_development_or_birth",
	"neoplasm",
	"endocrine_system",
	"head_or_neck",
	"immune_system",
	"growth",
	"limbs",
	"thoracic_cavity",
	"blood",
	"musculature",
	"cardiovascular_system",
	"abdomen",
	"skeletal_system",
	"respiratory",
	"ear_defects",
	"metabolism_homeostasis",
	"genitourinary_system",
	"integument",
}

func init() {
	for _, key := range hpoRowKeys {
		defaultRow[key] = "N"
	}
}

// NewDefaultRow returns a fresh copy of the report row template.
func NewDefaultRow() map[string]interface{} {
	row := make(map[string]interface{}, len(defaultRow))
	for k, v := range defaultRow {
		row[k] = v
	}
	return row
}

// AdditionalKindredsField is the functional-data field whose values count
// kindreds and therefore get incremented rather than overwritten.
const AdditionalKindredsField = "n_unrelated_kindreds_with_causal_variants_in_gene"

// FunctionalDataFieldMap maps functional-data tag names to report columns.
var FunctionalDataFieldMap = map[string]string{
	"Additional Unrelated Kindreds w/ Causal Variants in Gene": AdditionalKindredsField,
	"Genome-wide Linkage":                            "genome_wide_linkage",
	"Bonferroni corrected p-value":                   "p_value",
	"Kindreds w/ Overlapping SV & Similar Phenotype": "n_kindreds_overlapping_sv_similar_phenotype",
	"Biochemical Function":                           "biochemical_function",
	"Protein Interaction":                            "protein_interaction",
	"Expression":                                     "expression",
	"Patient Cells":                                  "patient_cells",
	"Non-patient cells":                              "non_patient_cell_model",
	"Animal Model":                                   "animal_model",
	"Non-human cell culture model":                   "non_human_cell_culture_model",
	"Rescue":                                         "rescue",
}

// MetadataFunctionalDataFields are the columns that carry free-form
// metadata values instead of a Y flag.
var MetadataFunctionalDataFields = map[string]struct{}{
	"genome_wide_linkage": {},
	"p_value":             {},
	"n_kindreds_overlapping_sv_similar_phenotype": {},
	AdditionalKindredsField:                       {},
}

// IsMetadataFunctionalField reports whether the column carries metadata.
func IsMetadataFunctionalField(field string) bool {
	_, ok := MetadataFunctionalDataFields[field]
	return ok
}

// FunctionalDataColumns lists every functional-data report column.
func FunctionalDataColumns() []string {
	columns := make([]string, 0, len(FunctionalDataFieldMap))
	for _, col := range FunctionalDataFieldMap {
		columns = append(columns, col)
	}
	return columns
}
