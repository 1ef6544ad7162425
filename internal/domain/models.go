package domain

import (
	"encoding/json"
	"time"
)

// AffectedStatus is an individual's phenotype status within a family.
type AffectedStatus string

const (
	Affected   AffectedStatus = "A"
	Unaffected AffectedStatus = "N"
	UnknownAff AffectedStatus = "U"
)

// Sample lifecycle statuses; only loaded samples participate in searches
// and reports.
const (
	SampleStatusLoaded = "loaded"
)

// Sort keys accepted by the search descriptor. The HGMD-aware
// pathogenicity sort is substituted for staff users.
const (
	SortXpos              = "xpos"
	SortPathogenicity     = "pathogenicity"
	SortPathogenicityHGMD = "pathogenicity_hgmd"
)

// Project is a read-model record for a curation project.
type Project struct {
	GUID        string `json:"projectGuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Family is a read-model record for a family within a project.
type Family struct {
	GUID                    string `json:"familyGuid"`
	FamilyID                string `json:"familyId"`
	ProjectGUID             string `json:"projectGuid"`
	CodedPhenotype          string `json:"codedPhenotype,omitempty"`
	AnalysisSummary         string `json:"analysisSummary,omitempty"`
	PedigreeImageURL        string `json:"pedigreeImageUrl,omitempty"`
	PostDiscoveryOmimNumber string `json:"postDiscoveryOmimNumber,omitempty"`
}

// PhenotypeFeature is one observed or excluded phenotype term.
type PhenotypeFeature struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Observed string `json:"observed"`
	Label    string `json:"label,omitempty"`
}

// Disorder is a diagnosed disorder reference (e.g. an OMIM number).
type Disorder struct {
	ID string `json:"id"`
}

// PhenotypeRecord is the structured phenotype data attached to an
// individual, when any was collected.
type PhenotypeRecord struct {
	Features           []PhenotypeFeature `json:"features,omitempty"`
	Disorders          []Disorder         `json:"disorders,omitempty"`
	ModesOfInheritance []string           `json:"modesOfInheritance,omitempty"`
}

// Individual is a read-model record for one family member.
type Individual struct {
	GUID         string           `json:"individualGuid"`
	IndividualID string           `json:"individualId"`
	FamilyGUID   string           `json:"familyGuid"`
	Affected     AffectedStatus   `json:"affected"`
	Sex          string           `json:"sex,omitempty"`
	Phenotype    *PhenotypeRecord `json:"phenotype,omitempty"`
}

// Sample is a sequencing dataset attached to an individual.
type Sample struct {
	GUID           string     `json:"sampleGuid"`
	IndividualGUID string     `json:"individualGuid"`
	FamilyGUID     string     `json:"familyGuid"`
	SampleType     string     `json:"sampleType"`
	DatasetType    string     `json:"datasetType,omitempty"`
	Status         string     `json:"status"`
	LoadedDate     *time.Time `json:"loadedDate,omitempty"`
	ESIndex        string     `json:"-"`
}

// LocusList is a curated gene list attachable to projects.
type LocusList struct {
	GUID    string   `json:"locusListGuid"`
	Name    string   `json:"name"`
	GeneIDs []string `json:"-"`
}

// Gene is reference-data metadata for one gene.
type Gene struct {
	GeneID       string `json:"geneId"`
	Symbol       string `json:"geneSymbol"`
	Chrom        string `json:"chromGrch38,omitempty"`
	Start        int64  `json:"startGrch38,omitempty"`
	End          int64  `json:"endGrch38,omitempty"`
	GeneName     string `json:"geneNameGrch38,omitempty"`
	OmimNumber   string `json:"omimNumber,omitempty"`
	MIMDisorders string `json:"mimDisorders,omitempty"`
}

// DiscoveryTagCategory marks the tag types that feed discovery
// reporting; ShareWithKOMPTag is the one discovery tag outside it.
const (
	DiscoveryTagCategory = "CMG Discovery Tags"
	ShareWithKOMPTag     = "Share with KOMP"
)

// VariantTag is a curation tag applied to a saved variant.
type VariantTag struct {
	GUID      string    `json:"tagGuid"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsDiscovery reports whether the tag marks its variant for discovery
// reporting.
func (t VariantTag) IsDiscovery() bool {
	return t.Category == DiscoveryTagCategory || t.Name == ShareWithKOMPTag
}

// VariantNote is a free-text note attached to a saved variant.
type VariantNote struct {
	GUID      string    `json:"noteGuid"`
	Note      string    `json:"note"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// VariantFunctionalData is one functional-evidence entry on a saved
// variant; Metadata carries the entry's value (a count, a description).
type VariantFunctionalData struct {
	GUID     string `json:"functionalDataGuid"`
	Name     string `json:"name"`
	Metadata string `json:"metadata,omitempty"`
}

// SavedVariant is the persisted record of a curated variant within one
// family, unique on (xpos, ref, alt, family). AnnotationJSON caches the
// full annotated variant as last fetched from the index.
type SavedVariant struct {
	GUID           string                  `json:"variantGuid"`
	Xpos           int64                   `json:"xpos"`
	XposEnd        int64                   `json:"xposEnd,omitempty"`
	Ref            string                  `json:"ref"`
	Alt            string                  `json:"alt"`
	FamilyGUID     string                  `json:"familyGuid"`
	ProjectGUID    string                  `json:"projectGuid"`
	AnnotationJSON json.RawMessage         `json:"-"`
	Tags           []VariantTag            `json:"tags"`
	Notes          []VariantNote           `json:"notes"`
	FunctionalData []VariantFunctionalData `json:"functionalData"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

// Key returns the saved variant's family-independent identity.
func (sv *SavedVariant) Key() VariantKey {
	return VariantKey{Xpos: sv.Xpos, Ref: sv.Ref, Alt: sv.Alt}
}

// HasDiscoveryTag reports whether any of the variant's tags marks it
// for discovery reporting.
func (sv *SavedVariant) HasDiscoveryTag() bool {
	for _, tag := range sv.Tags {
		if tag.IsDiscovery() {
			return true
		}
	}
	return false
}

// VariantSearch is a persisted search specification. Named searches are
// user-saved and listable; anonymous ones back one descriptor each.
type VariantSearch struct {
	GUID      string          `json:"searchGuid"`
	Name      string          `json:"name,omitempty"`
	Search    json.RawMessage `json:"search"`
	CreatedBy string          `json:"createdBy,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SearchResultDescriptor records one executed (or executable) search:
// the hash the client presents, the sort order, the underlying search
// specification and family scope, and, once the first page has run, the
// immutable result metadata. Unique on (search_hash, sort); descriptors
// are never deleted, only reset.
type SearchResultDescriptor struct {
	ID           int64           `json:"-"`
	SearchHash   string          `json:"searchHash"`
	Sort         string          `json:"sort"`
	SearchGUID   string          `json:"-"`
	Search       json.RawMessage `json:"search"`
	FamilyGUIDs  []string        `json:"-"`
	TotalResults *int64          `json:"totalResults,omitempty"`
	ESIndex      *string         `json:"-"`
	CreatedAt    time.Time       `json:"-"`
}

// ProjectFamilies selects families within one project for a search.
type ProjectFamilies struct {
	ProjectGUID string   `json:"projectGuid"`
	FamilyGUIDs []string `json:"familyGuids"`
}

// SearchRequest is the body accompanying a first-time search hash.
type SearchRequest struct {
	Search          json.RawMessage   `json:"search"`
	ProjectFamilies []ProjectFamilies `json:"projectFamilies"`
}

// SearchContext echoes the resolved search back to the client together
// with the running total.
type SearchContext struct {
	Search          json.RawMessage   `json:"search"`
	ProjectFamilies []ProjectFamilies `json:"projectFamilies"`
	TotalResults    int64             `json:"totalResults"`
}

// SavedVariantDetail is a saved variant merged with fresh search data.
// Search fields win field-wise, but FamilyGUIDs on the embedded Variant
// is replaced with the saved variant's own family.
type SavedVariantDetail struct {
	Variant
	VariantGUID    string                  `json:"variantGuid"`
	Tags           []VariantTag            `json:"tags"`
	Notes          []VariantNote           `json:"notes"`
	FunctionalData []VariantFunctionalData `json:"functionalData"`
}

// SearchResponse is the unified search result payload.
type SearchResponse struct {
	SearchedVariants    []*Variant                     `json:"searchedVariants"`
	SavedVariantsByGUID map[string]*SavedVariantDetail `json:"savedVariantsByGuid"`
	GenesByID           map[string]*Gene               `json:"genesById"`
	Search              *SearchContext                 `json:"search,omitempty"`
}

// User is the caller identity threaded through permission checks.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	IsStaff bool   `json:"isStaff"`
}

// ReportRow is one denormalized discovery-sheet row. Rows are built by
// overlaying dynamic values on a fixed template, so the natural shape is
// a flat field map.
type ReportRow map[string]interface{}

// ReportError is a non-fatal error collected while generating rows for
// one project.
type ReportError struct {
	FamilyGUID string `json:"familyGuid,omitempty"`
	Message    string `json:"message"`
}

// Report is the discovery-sheet output for one project.
type Report struct {
	ProjectGUID string        `json:"projectGuid"`
	Rows        []ReportRow   `json:"rows"`
	Errors      []ReportError `json:"errors,omitempty"`
}
