// Package gateway implements the variant index access layer on top of
// Elasticsearch. Search specifications are translated into bool queries;
// a missing or incompatible index surfaces as domain.InvalidIndexError.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
	"github.com/variant-curation-server/pkg/xpos"
)

// ElasticsearchGateway runs variant queries against the index cluster.
type ElasticsearchGateway struct {
	logger       *logrus.Logger
	client       *elasticsearch.Client
	defaultIndex string
}

// NewElasticsearchGateway creates a gateway from the cluster config.
// defaultIndex is used for descriptors that have not recorded an index
// yet.
func NewElasticsearchGateway(logger *logrus.Logger, cfg domain.ElasticsearchConfig, defaultIndex string) (*ElasticsearchGateway, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &ElasticsearchGateway{
		logger:       logger,
		client:       client,
		defaultIndex: defaultIndex,
	}, nil
}

// searchSpec is the declarative search specification stored with a
// descriptor. Absent sections apply no filter.
type searchSpec struct {
	Locus         *locusFilter         `json:"locus"`
	Annotations   map[string][]string  `json:"annotations"`
	Freqs         map[string]afFilter  `json:"freqs"`
	Pathogenicity *pathogenicityFilter `json:"pathogenicity"`
	QualityFilter *qualityFilter       `json:"qualityFilter"`
}

type locusFilter struct {
	GeneIDs []string     `json:"geneIds"`
	Ranges  []locusRange `json:"ranges"`
}

type locusRange struct {
	Chrom string `json:"chrom"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

type afFilter struct {
	AF *float64 `json:"af"`
	AC *int     `json:"ac"`
}

type pathogenicityFilter struct {
	Clinvar []string `json:"clinvar"`
	HGMD    []string `json:"hgmd"`
}

type qualityFilter struct {
	MinGQ *float64 `json:"min_gq"`
	MinAB *float64 `json:"min_ab"`
}

// Search runs one page of the descriptor's search.
func (g *ElasticsearchGateway) Search(ctx context.Context, descriptor *domain.SearchResultDescriptor, page, perPage int) (*domain.SearchPage, error) {
	query, err := buildSearchQuery(descriptor)
	if err != nil {
		return nil, err
	}
	query["sort"] = sortClauses(descriptor.Sort)
	query["from"] = (page - 1) * perPage
	query["size"] = perPage

	index := g.indexFor(descriptor)
	variants, total, err := g.runQuery(ctx, index, query)
	if err != nil {
		return nil, err
	}

	spec, err := decodeSpec(descriptor.Search)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		restrictFamilies(v, descriptor.FamilyGUIDs)
		applyQualityFilter(v, spec.QualityFilter)
	}

	g.logger.WithFields(logrus.Fields{
		"index":   index,
		"total":   total,
		"page":    page,
		"results": len(variants),
	}).Debug("Variant search executed")

	return &domain.SearchPage{Variants: variants, Total: total, Index: index}, nil
}

// SingleVariant looks up one variant by its "chrom-pos-ref-alt" id.
func (g *ElasticsearchGateway) SingleVariant(ctx context.Context, familyGUIDs []string, variantID string) (*domain.Variant, error) {
	if err := validateVariantID(variantID); err != nil {
		return nil, err
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"terms": map[string]interface{}{"familyGuids": familyGUIDs}},
					{"term": map[string]interface{}{"variantId": variantID}},
				},
			},
		},
		"size": 1,
	}

	variants, _, err := g.runQuery(ctx, g.defaultIndex, query)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, domain.ErrNotFound
	}
	restrictFamilies(variants[0], familyGUIDs)
	return variants[0], nil
}

// VariantsForKeys fetches current annotations for the given keys.
func (g *ElasticsearchGateway) VariantsForKeys(ctx context.Context, familyGUIDs []string, keys []domain.VariantKey) ([]*domain.Variant, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	should := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		should = append(should, map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"xpos": key.Xpos}},
					{"term": map[string]interface{}{"ref": key.Ref}},
					{"term": map[string]interface{}{"alt": key.Alt}},
				},
			},
		})
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"terms": map[string]interface{}{"familyGuids": familyGUIDs}},
				},
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"size": len(keys),
	}

	variants, _, err := g.runQuery(ctx, g.defaultIndex, query)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		restrictFamilies(v, familyGUIDs)
	}
	return variants, nil
}

func (g *ElasticsearchGateway) indexFor(descriptor *domain.SearchResultDescriptor) string {
	if descriptor.ESIndex != nil && *descriptor.ESIndex != "" {
		return *descriptor.ESIndex
	}
	return g.defaultIndex
}

func (g *ElasticsearchGateway) runQuery(ctx context.Context, index string, query map[string]interface{}) ([]*domain.Variant, int64, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, 0, fmt.Errorf("encoding query: %w", err)
	}

	res, err := g.client.Search(
		g.client.Search.WithContext(ctx),
		g.client.Search.WithIndex(index),
		g.client.Search.WithBody(&buf),
		g.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("executing search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, 0, indexError(index, res.StatusCode, res.Body)
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("decoding search response: %w", err)
	}

	variants := make([]*domain.Variant, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		var v domain.Variant
		if err := json.Unmarshal(hit.Source, &v); err != nil {
			return nil, 0, fmt.Errorf("decoding variant document: %w", err)
		}
		if v.VariantID == "" {
			v.VariantID = v.ID()
		}
		variants = append(variants, &v)
	}
	return variants, parsed.Hits.Total.Value, nil
}

type esSearchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// indexError classifies an error response: a missing or closed index is
// an InvalidIndexError, anything else a plain error.
func indexError(index string, statusCode int, body interface{ Read([]byte) (int, error) }) error {
	var parsed esErrorResponse
	_ = json.NewDecoder(body).Decode(&parsed)

	switch parsed.Error.Type {
	case "index_not_found_exception", "index_closed_exception":
		return &domain.InvalidIndexError{Index: index, Message: parsed.Error.Reason}
	}
	if statusCode == 404 {
		return &domain.InvalidIndexError{Index: index, Message: "no such index"}
	}
	if parsed.Error.Reason != "" {
		return fmt.Errorf("search failed (%d): %s", statusCode, parsed.Error.Reason)
	}
	return fmt.Errorf("search failed with status %d", statusCode)
}

// buildSearchQuery translates the descriptor's search specification into
// the bool query body, without sort or pagination.
func buildSearchQuery(descriptor *domain.SearchResultDescriptor) (map[string]interface{}, error) {
	spec, err := decodeSpec(descriptor.Search)
	if err != nil {
		return nil, err
	}

	filter := []map[string]interface{}{
		{"terms": map[string]interface{}{"familyGuids": descriptor.FamilyGUIDs}},
	}

	if spec.Locus != nil {
		locus, err := locusClause(spec.Locus)
		if err != nil {
			return nil, err
		}
		if locus != nil {
			filter = append(filter, locus)
		}
	}

	if len(spec.Annotations) > 0 {
		var terms []string
		for _, group := range sortedSpecKeys(spec.Annotations) {
			terms = append(terms, spec.Annotations[group]...)
		}
		if len(terms) > 0 {
			filter = append(filter, map[string]interface{}{
				"terms": map[string]interface{}{"transcriptConsequenceTerms": terms},
			})
		}
	}

	for _, pop := range sortedFreqKeys(spec.Freqs) {
		f := spec.Freqs[pop]
		if f.AF != nil {
			filter = append(filter, map[string]interface{}{
				"range": map[string]interface{}{
					fmt.Sprintf("populations.%s.af", pop): map[string]interface{}{"lte": *f.AF},
				},
			})
		} else if f.AC != nil {
			filter = append(filter, map[string]interface{}{
				"range": map[string]interface{}{
					fmt.Sprintf("populations.%s.ac", pop): map[string]interface{}{"lte": *f.AC},
				},
			})
		}
	}

	if spec.Pathogenicity != nil {
		var should []map[string]interface{}
		if len(spec.Pathogenicity.Clinvar) > 0 {
			should = append(should, map[string]interface{}{
				"terms": map[string]interface{}{"clinvar.clinsig": spec.Pathogenicity.Clinvar},
			})
		}
		if len(spec.Pathogenicity.HGMD) > 0 {
			should = append(should, map[string]interface{}{
				"terms": map[string]interface{}{"hgmd.class": spec.Pathogenicity.HGMD},
			})
		}
		if len(should) > 0 {
			filter = append(filter, map[string]interface{}{
				"bool": map[string]interface{}{"should": should, "minimum_should_match": 1},
			})
		}
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filter},
		},
	}, nil
}

func locusClause(locus *locusFilter) (map[string]interface{}, error) {
	var should []map[string]interface{}
	if len(locus.GeneIDs) > 0 {
		should = append(should, map[string]interface{}{
			"terms": map[string]interface{}{"geneIds": locus.GeneIDs},
		})
	}
	for _, r := range locus.Ranges {
		start, err := xpos.Encode(r.Chrom, r.Start)
		if err != nil {
			return nil, domain.NewInvalidSearchError("invalid locus range: %v", err)
		}
		end, err := xpos.Encode(r.Chrom, r.End)
		if err != nil {
			return nil, domain.NewInvalidSearchError("invalid locus range: %v", err)
		}
		should = append(should, map[string]interface{}{
			"range": map[string]interface{}{
				"xpos": map[string]interface{}{"gte": start, "lte": end},
			},
		})
	}
	if len(should) == 0 {
		return nil, nil
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{"should": should, "minimum_should_match": 1},
	}, nil
}

// sortClauses maps a sort key to its clause list; position always breaks
// ties so pagination stays stable.
func sortClauses(sortKey string) []interface{} {
	switch sortKey {
	case domain.SortPathogenicity:
		return []interface{}{
			map[string]interface{}{"pathogenicitySortScore": map[string]interface{}{"order": "desc", "missing": "_last"}},
			map[string]interface{}{"xpos": "asc"},
		}
	case domain.SortPathogenicityHGMD:
		return []interface{}{
			map[string]interface{}{"pathogenicityHgmdSortScore": map[string]interface{}{"order": "desc", "missing": "_last"}},
			map[string]interface{}{"xpos": "asc"},
		}
	default:
		return []interface{}{map[string]interface{}{"xpos": "asc"}}
	}
}

func decodeSpec(raw json.RawMessage) (*searchSpec, error) {
	spec := &searchSpec{}
	if len(raw) == 0 {
		return spec, nil
	}
	if err := json.Unmarshal(raw, spec); err != nil {
		return nil, domain.NewInvalidSearchError("malformed search specification: %v", err)
	}
	return spec, nil
}

// restrictFamilies trims the document's family list to the search scope.
func restrictFamilies(v *domain.Variant, familyGUIDs []string) {
	allowed := make(map[string]struct{}, len(familyGUIDs))
	for _, guid := range familyGUIDs {
		allowed[guid] = struct{}{}
	}
	kept := make([]string, 0, len(v.FamilyGUIDs))
	for _, guid := range v.FamilyGUIDs {
		if _, ok := allowed[guid]; ok {
			kept = append(kept, guid)
		}
	}
	v.FamilyGUIDs = kept
}

// applyQualityFilter masks genotype calls failing the quality thresholds
// so downstream classification treats them as no-calls.
func applyQualityFilter(v *domain.Variant, quality *qualityFilter) {
	if quality == nil {
		return
	}
	for guid, genotype := range v.Genotypes {
		fails := false
		if quality.MinGQ != nil && genotype.GQ != nil && *genotype.GQ < *quality.MinGQ {
			fails = true
		}
		if quality.MinAB != nil && genotype.AB != nil && genotype.NumAlt != nil && *genotype.NumAlt == 1 &&
			*genotype.AB*100 < *quality.MinAB {
			fails = true
		}
		if fails {
			genotype.NumAlt = nil
			v.Genotypes[guid] = genotype
		}
	}
}

func validateVariantID(variantID string) error {
	parts := strings.Split(variantID, "-")
	if len(parts) != 4 {
		return domain.NewInvalidSearchError("invalid variant id %q", variantID)
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return domain.NewInvalidSearchError("invalid variant id %q", variantID)
	}
	return nil
}

func sortedSpecKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFreqKeys(m map[string]afFilter) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
