package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
	"github.com/variant-curation-server/internal/reference"
)

// DiscoverySheetAggregator generates the per-project discovery report:
// one denormalized row per (family, gene) with discovery-tag derived
// fields. Families that cannot produce rows contribute collected errors
// instead of failing the batch.
type DiscoverySheetAggregator struct {
	logger     *logrus.Logger
	projects   domain.ProjectRepository
	saved      domain.SavedVariantStore
	genes      domain.GeneRepository
	omim       domain.PhenotypicSeriesLookup
	classifier *GenotypeClassifier
	grouper    *CompoundHetGrouper
}

// NewDiscoverySheetAggregator creates a new discovery sheet aggregator.
// omim may be nil to skip phenotypic-series enrichment.
func NewDiscoverySheetAggregator(
	logger *logrus.Logger,
	projects domain.ProjectRepository,
	saved domain.SavedVariantStore,
	genes domain.GeneRepository,
	omim domain.PhenotypicSeriesLookup,
) *DiscoverySheetAggregator {
	return &DiscoverySheetAggregator{
		logger:     logger,
		projects:   projects,
		saved:      saved,
		genes:      genes,
		omim:       omim,
		classifier: NewGenotypeClassifier(),
		grouper:    NewCompoundHetGrouper(),
	}
}

// variantTagEntry is an unformatted extras_variant_tag_list item; gene
// symbols are resolved in a final pass over all rows.
type variantTagEntry struct {
	variantID string
	geneID    string
	tag       string
}

// Generate builds the discovery report for one project. asOf is the
// analysis cutoff: only samples loaded strictly before it participate,
// and elapsed-time fields are computed against it. A zero asOf means now.
func (a *DiscoverySheetAggregator) Generate(ctx context.Context, projectGUID string, asOf time.Time) (*domain.Report, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	report := &domain.Report{ProjectGUID: projectGUID, Rows: []domain.ReportRow{}}

	project, err := a.projects.Project(ctx, projectGUID)
	if err != nil {
		return nil, fmt.Errorf("invalid project %s: %w", projectGUID, err)
	}

	samples, err := a.projects.LoadedSamples(ctx, projectGUID, asOf)
	if err != nil {
		return nil, fmt.Errorf("loading samples: %w", err)
	}
	samplesByFamily := make(map[string][]*domain.Sample)
	for _, s := range samples {
		samplesByFamily[s.FamilyGUID] = append(samplesByFamily[s.FamilyGUID], s)
	}
	if len(samplesByFamily) == 0 {
		a.logger.WithField("project_guid", projectGUID).Info("No data loaded for project")
		report.Errors = append(report.Errors, domain.ReportError{
			Message: fmt.Sprintf("No data loaded for project: %s", project.Name),
		})
		return report, nil
	}

	families, err := a.projects.FamiliesForProject(ctx, projectGUID)
	if err != nil {
		return nil, fmt.Errorf("loading families: %w", err)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GUID < families[j].GUID })

	familyGUIDs := make([]string, 0, len(families))
	for _, f := range families {
		familyGUIDs = append(familyGUIDs, f.GUID)
	}
	individuals, err := a.projects.IndividualsForFamilies(ctx, familyGUIDs)
	if err != nil {
		return nil, fmt.Errorf("loading individuals: %w", err)
	}
	individualsByFamily := make(map[string][]*domain.Individual)
	individualsByGUID := make(map[string]*domain.Individual)
	for _, ind := range individuals {
		individualsByFamily[ind.FamilyGUID] = append(individualsByFamily[ind.FamilyGUID], ind)
		individualsByGUID[ind.GUID] = ind
	}

	savedVariants, err := a.saved.ListTagged(ctx, projectGUID)
	if err != nil {
		return nil, fmt.Errorf("loading saved variants: %w", err)
	}
	savedByFamily := make(map[string][]*domain.SavedVariant)
	for _, sv := range savedVariants {
		if !sv.HasDiscoveryTag() {
			continue
		}
		savedByFamily[sv.FamilyGUID] = append(savedByFamily[sv.FamilyGUID], sv)
	}

	sequencingApproach := a.sequencingApproach(project, families, samplesByFamily)

	for _, family := range families {
		famSamples := samplesByFamily[family.GUID]
		if len(famSamples) == 0 {
			report.Errors = append(report.Errors, domain.ReportError{
				FamilyGUID: family.GUID,
				Message:    fmt.Sprintf("No data loaded for family: %s. Skipping...", family.FamilyID),
			})
			continue
		}
		a.generateFamilyRows(ctx, report, project, family, famSamples,
			individualsByFamily[family.GUID], savedByFamily[family.GUID],
			sequencingApproach, asOf)
	}

	a.updateGeneSymbols(ctx, report)
	a.updateInitialOmimNumbers(ctx, report)

	return report, nil
}

// sequencingApproach is "REAN" for reanalysis projects, otherwise the
// sample type of the most recently loaded sample of the first family.
func (a *DiscoverySheetAggregator) sequencingApproach(project *domain.Project, families []*domain.Family, samplesByFamily map[string][]*domain.Sample) string {
	if strings.Contains(project.Name, "external") || strings.Contains(project.Name, "reprocessed") {
		return "REAN"
	}
	for _, family := range families {
		if samples := samplesByFamily[family.GUID]; len(samples) > 0 {
			return samples[len(samples)-1].SampleType
		}
	}
	return ""
}

func (a *DiscoverySheetAggregator) generateFamilyRows(
	ctx context.Context,
	report *domain.Report,
	project *domain.Project,
	family *domain.Family,
	samples []*domain.Sample,
	individuals []*domain.Individual,
	savedVariants []*domain.SavedVariant,
	sequencingApproach string,
	asOf time.Time,
) {
	row := reference.NewDefaultRow()
	row["project_guid"] = project.GUID
	row["family_guid"] = family.GUID
	row["family_id"] = family.FamilyID
	row["collaborator"] = project.Name
	row["sequencing_approach"] = sequencingApproach
	row["extras_pedigree_url"] = family.PedigreeImageURL
	row["coded_phenotype"] = family.CodedPhenotype
	row["analysis_summary"] = strings.Trim(family.AnalysisSummary, "\" \n")

	t0 := *samples[0].LoadedDate
	monthsSinceT0 := monthsBetween(t0, asOf)
	row["t0"] = t0
	row["t0_copy"] = t0
	row["months_since_t0"] = monthsSinceT0
	if monthsSinceT0 < 12 {
		row["analysis_complete_status"] = "first_pass_in_progress"
	}

	submittedToMME, err := a.projects.HasMatchmakerSubmission(ctx, project.GUID, family.FamilyID)
	if err != nil {
		report.Errors = append(report.Errors, domain.ReportError{
			FamilyGUID: family.GUID,
			Message:    fmt.Sprintf("matchmaker lookup failed for family %s: %v", family.FamilyID, err),
		})
	}
	if submittedToMME {
		row["submitted_to_mme"] = "Y"
	}

	a.applyPhenotypes(report, family, individuals, row)

	if len(savedVariants) == 0 {
		report.Rows = append(report.Rows, row)
		return
	}

	individualGUIDsByID := make(map[string]string, len(individuals))
	affected := make(map[string]struct{})
	unaffected := make(map[string]struct{})
	for _, ind := range individuals {
		individualGUIDsByID[ind.IndividualID] = ind.GUID
		switch ind.Affected {
		case domain.Affected:
			affected[ind.GUID] = struct{}{}
		case domain.Unaffected:
			unaffected[ind.GUID] = struct{}{}
		}
	}

	variantsByKey := make(map[domain.VariantKey]*domain.Variant)
	savedByKey := make(map[domain.VariantKey]*domain.SavedVariant)
	for _, sv := range savedVariants {
		if len(sv.AnnotationJSON) == 0 {
			report.Errors = append(report.Errors, domain.ReportError{
				FamilyGUID: family.GUID,
				Message:    fmt.Sprintf("%s - variant annotation not found", sv.GUID),
			})
			report.Rows = append(report.Rows, row)
			continue
		}
		variant, err := domain.VariantFromSavedJSON(sv.AnnotationJSON, individualGUIDsByID, true)
		if err != nil {
			report.Errors = append(report.Errors, domain.ReportError{
				FamilyGUID: family.GUID,
				Message:    fmt.Sprintf("%s - %v", sv.GUID, err),
			})
			report.Rows = append(report.Rows, row)
			continue
		}
		if len(variant.Transcripts) == 0 {
			report.Errors = append(report.Errors, domain.ReportError{
				FamilyGUID: family.GUID,
				Message:    fmt.Sprintf("%s - no gene ids", sv.GUID),
			})
			report.Rows = append(report.Rows, row)
			continue
		}
		variantsByKey[sv.Key()] = variant
		savedByKey[sv.Key()] = sv
	}

	candidates := make(map[string]VariantKeySet)
	for _, key := range sortedVariantKeys(variantsByKey) {
		variant := variantsByKey[key]
		result := a.classifier.Classify(variant, affected, unaffected)
		variant.Inheritance = result.Models
		if result.CompoundHetCandidate {
			for _, geneID := range variant.GeneIDs() {
				if candidates[geneID] == nil {
					candidates[geneID] = make(VariantKeySet)
				}
				candidates[geneID][key] = struct{}{}
			}
		}
	}

	groups, geneInheritance := a.grouper.Group(candidates, variantsByKey)
	if len(groups) > 1 {
		row["gene_count"] = len(groups)
	}

	geneIDs := make([]string, 0, len(groups))
	for geneID := range groups {
		geneIDs = append(geneIDs, geneID)
	}
	sort.Strings(geneIDs)

	for _, geneID := range geneIDs {
		report.Rows = append(report.Rows, a.geneRow(
			report, family, row, geneID, groups[geneID], geneInheritance[geneID],
			variantsByKey, savedByKey, submittedToMME, monthsSinceT0))
	}
}

// applyPhenotypes overlays structured phenotype data: the expected
// inheritance model when exactly one was recorded, the initial OMIM
// number and the per-HPO-category observation columns.
func (a *DiscoverySheetAggregator) applyPhenotypes(report *domain.Report, family *domain.Family, individuals []*domain.Individual, row domain.ReportRow) {
	var modes []string
	omimInitial := ""
	categoryNotSet := false

	for _, ind := range individuals {
		if ind.Phenotype == nil {
			continue
		}
		modes = append(modes, ind.Phenotype.ModesOfInheritance...)

		if omimInitial == "" {
			for _, disorder := range ind.Phenotype.Disorders {
				if disorder.ID != "" {
					omimInitial = strings.Replace(disorder.ID, "MIM:", "", 1)
					break
				}
			}
		}

		for _, feature := range ind.Phenotype.Features {
			if feature.Category == "" {
				categoryNotSet = true
				continue
			}
			switch strings.ToLower(feature.Observed) {
			case "yes":
				name, ok := reference.HPOCategoryNames[feature.Category]
				if !ok {
					report.Errors = append(report.Errors, domain.ReportError{
						FamilyGUID: family.GUID,
						Message:    fmt.Sprintf("Unknown HPO category %s in family %s", feature.Category, family.FamilyID),
					})
					continue
				}
				row[reference.HPOCategoryRowKey(name)] = "Y"
			case "no":
			default:
				report.Errors = append(report.Errors, domain.ReportError{
					FamilyGUID: family.GUID,
					Message:    fmt.Sprintf("Unexpected value %q for observed on %s in family %s", feature.Observed, feature.ID, family.FamilyID),
				})
			}
		}
	}

	if len(modes) == 1 {
		row["expected_inheritance_model"] = modes[0]
	}
	if omimInitial != "" {
		row["omim_number_initial"] = omimInitial
		row["phenotype_class"] = "Known"
	}
	if family.PostDiscoveryOmimNumber != "" {
		row["omim_number_post_discovery"] = family.PostDiscoveryOmimNumber
	}
	if categoryNotSet {
		report.Errors = append(report.Errors, domain.ReportError{
			FamilyGUID: family.GUID,
			Message:    fmt.Sprintf("HPO category field not set for some HPO terms in %s", family.FamilyID),
		})
	}
}

// geneRow builds the final row for one gene group.
func (a *DiscoverySheetAggregator) geneRow(
	report *domain.Report,
	family *domain.Family,
	baseRow domain.ReportRow,
	geneID string,
	group VariantKeySet,
	inheritance domain.InheritanceSet,
	variantsByKey map[domain.VariantKey]*domain.Variant,
	savedByKey map[domain.VariantKey]*domain.SavedVariant,
	submittedToMME bool,
	monthsSinceT0 int,
) domain.ReportRow {
	row := copyRow(baseRow)
	row["actual_inheritance_model"] = inheritance.String()
	row["gene_id"] = geneID

	tagNames := make(map[string]struct{})
	for key := range group {
		if sv := savedByKey[key]; sv != nil {
			for _, tag := range sv.Tags {
				if !tag.IsDiscovery() {
					continue
				}
				tagNames[tag.Name] = struct{}{}
			}
		}
	}

	hasTier1 := anyWithPrefix(tagNames, "Tier 1")
	hasTier2 := anyWithPrefix(tagNames, "Tier 2")
	_, hasKnownGene := tagNames["Known gene for phenotype"]

	solved := "N"
	if hasTier1 || hasKnownGene {
		solved = "TIER 1 GENE"
	} else if hasTier2 {
		solved = "TIER 2 GENE"
	}
	row["solved"] = solved
	if _, ok := tagNames["Share with KOMP"]; ok {
		row["komp_early_release"] = "Y"
	} else {
		row["komp_early_release"] = "N"
	}

	if hasTier1 || hasTier2 || hasKnownGene {
		row["posted_publicly"] = ""
		row["analysis_complete_status"] = "complete"
		if anyContaining(tagNames, "Novel gene") {
			row["novel_mendelian_gene"] = "Y"
		} else {
			row["novel_mendelian_gene"] = "N"
		}
	}

	if hasAny(tagNames, "Tier 1 - Phenotype expansion", "Tier 1 - Novel mode of inheritance", "Tier 2 - Phenotype expansion") {
		row["phenotype_class"] = "EXPAN"
	} else if hasAny(tagNames, "Tier 1 - Phenotype not delineated", "Tier 2 - Phenotype not delineated") {
		row["phenotype_class"] = "UE"
	}

	if !submittedToMME {
		if hasTier1 || hasTier2 {
			if monthsSinceT0 > 7 {
				row["submitted_to_mme"] = "N"
			} else {
				row["submitted_to_mme"] = "TBD"
			}
		} else if hasKnownGene {
			row["submitted_to_mme"] = "KPG"
		}
	}

	if hasTier1 || hasTier2 {
		for _, field := range reference.FunctionalDataColumns() {
			switch {
			case field == reference.AdditionalKindredsField:
				row[field] = "1"
			case reference.IsMetadataFunctionalField(field):
				row[field] = "NA"
			default:
				row[field] = "N"
			}
		}
	} else if hasKnownGene {
		for _, field := range reference.FunctionalDataColumns() {
			row[field] = "KPG"
		}
	}

	var tagList []variantTagEntry
	for _, key := range sortedKeySet(group) {
		variant := variantsByKey[key]
		sv := savedByKey[key]
		if variant == nil || sv == nil {
			continue
		}
		for _, tag := range sv.Tags {
			if !tag.IsDiscovery() {
				continue
			}
			tagList = append(tagList, variantTagEntry{
				variantID: variant.ID(),
				geneID:    geneID,
				tag:       strings.ToLower(tag.Name),
			})
		}

		for _, fd := range sv.FunctionalData {
			field, ok := reference.FunctionalDataFieldMap[fd.Name]
			if !ok {
				report.Errors = append(report.Errors, domain.ReportError{
					FamilyGUID: family.GUID,
					Message:    fmt.Sprintf("Unknown functional data tag %q on %s", fd.Name, sv.GUID),
				})
				continue
			}
			value := "Y"
			if reference.IsMetadataFunctionalField(field) {
				value = fd.Metadata
				if field == reference.AdditionalKindredsField {
					// the count excludes the reporting kindred itself
					if n, err := strconv.Atoi(strings.TrimSpace(fd.Metadata)); err == nil {
						value = strconv.Itoa(n + 1)
					}
				} else if current, _ := row[field].(string); current != "NS" {
					value = fmt.Sprintf("%s %s", current, fd.Metadata)
				}
			}
			row[field] = value
		}
	}
	row["extras_variant_tag_list"] = tagList

	return row
}

// updateGeneSymbols resolves gene names for all rows in one lookup and
// formats the variant tag list entries.
func (a *DiscoverySheetAggregator) updateGeneSymbols(ctx context.Context, report *domain.Report) {
	geneSet := make(map[string]struct{})
	for _, row := range report.Rows {
		if geneID, _ := row["gene_id"].(string); geneID != "" {
			geneSet[geneID] = struct{}{}
		}
		if entries, ok := row["extras_variant_tag_list"].([]variantTagEntry); ok {
			for _, e := range entries {
				geneSet[e.geneID] = struct{}{}
			}
		}
	}

	genesByID := map[string]*domain.Gene{}
	if len(geneSet) > 0 {
		var err error
		genesByID, err = a.genes.GenesByID(ctx, sortedKeys(geneSet))
		if err != nil {
			a.logger.WithError(err).Warn("Failed to resolve gene symbols")
			genesByID = map[string]*domain.Gene{}
		}
	}

	for _, row := range report.Rows {
		if geneID, _ := row["gene_id"].(string); geneID != "" {
			if gene := genesByID[geneID]; gene != nil {
				row["gene_name"] = gene.Symbol
			}
		}
		entries, ok := row["extras_variant_tag_list"].([]variantTagEntry)
		if !ok {
			continue
		}
		formatted := make([]string, 0, len(entries))
		for _, e := range entries {
			symbol := ""
			if gene := genesByID[e.geneID]; gene != nil {
				symbol = gene.Symbol
			}
			formatted = append(formatted, fmt.Sprintf("%s  %s  %s", e.variantID, symbol, e.tag))
		}
		row["extras_variant_tag_list"] = formatted
	}
}

// updateInitialOmimNumbers replaces initial OMIM numbers with their
// phenotypic-series ids where a series exists. Lookup failures keep the
// original number.
func (a *DiscoverySheetAggregator) updateInitialOmimNumbers(ctx context.Context, report *domain.Report) {
	if a.omim == nil {
		return
	}
	numbers := make(map[string]struct{})
	for _, row := range report.Rows {
		if n, _ := row["omim_number_initial"].(string); n != "" && n != "NA" {
			numbers[n] = struct{}{}
		}
	}

	seriesByNumber := make(map[string]string)
	for _, number := range sortedKeys(numbers) {
		seriesID, err := a.omim.PhenotypicSeriesID(ctx, number)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"omim_number": number,
			}).WithError(err).Info("Unable to look up phenotypic series for OMIM initial number")
			continue
		}
		if seriesID != "" {
			seriesByNumber[number] = seriesID
		}
	}

	for _, row := range report.Rows {
		if n, _ := row["omim_number_initial"].(string); n != "" {
			if seriesID := seriesByNumber[n]; seriesID != "" {
				row["omim_number_initial"] = seriesID
			}
		}
	}
}

// monthsBetween counts whole calendar months from one time to another.
func monthsBetween(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	return months
}

func copyRow(row domain.ReportRow) domain.ReportRow {
	out := make(domain.ReportRow, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func sortedVariantKeys(variants map[domain.VariantKey]*domain.Variant) []domain.VariantKey {
	keys := make([]domain.VariantKey, 0, len(variants))
	for key := range variants {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}

func sortedKeySet(set VariantKeySet) []domain.VariantKey {
	keys := make([]domain.VariantKey, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}

func anyWithPrefix(names map[string]struct{}, prefix string) bool {
	for name := range names {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func anyContaining(names map[string]struct{}, substr string) bool {
	for name := range names {
		if strings.Contains(name, substr) {
			return true
		}
	}
	return false
}

func hasAny(names map[string]struct{}, candidates ...string) bool {
	for _, c := range candidates {
		if _, ok := names[c]; ok {
			return true
		}
	}
	return false
}
