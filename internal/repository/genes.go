package repository

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
)

// GeneRepository reads gene reference data through an in-process LRU
// cache. Gene records change only on reference data reloads, so cached
// entries are kept until evicted.
type GeneRepository struct {
	db    *pgxpool.Pool
	log   *logrus.Logger
	cache *lru.Cache[string, *domain.Gene]
}

// NewGeneRepository creates a new gene repository with an LRU cache of
// the given size.
func NewGeneRepository(db *pgxpool.Pool, logger *logrus.Logger, cacheSize int) (*GeneRepository, error) {
	cache, err := lru.New[string, *domain.Gene](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating gene cache: %w", err)
	}
	return &GeneRepository{
		db:    db,
		log:   logger,
		cache: cache,
	}, nil
}

// GenesByID retrieves gene records for the given IDs. Unknown IDs are
// omitted from the result.
func (r *GeneRepository) GenesByID(ctx context.Context, geneIDs []string) (map[string]*domain.Gene, error) {
	genes := make(map[string]*domain.Gene, len(geneIDs))
	var missing []string
	for _, id := range geneIDs {
		if gene, ok := r.cache.Get(id); ok {
			genes[id] = gene
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return genes, nil
	}

	query := `
		SELECT gene_id, symbol,
			   COALESCE(chrom, ''), COALESCE(start_pos, 0), COALESCE(end_pos, 0),
			   COALESCE(gene_name, ''), COALESCE(omim_number, ''), COALESCE(mim_disorders, '')
		FROM genes
		WHERE gene_id = ANY($1)`

	rows, err := r.db.Query(ctx, query, missing)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"genes": len(missing),
			"error": err,
		}).Error("Failed to query genes")
		return nil, fmt.Errorf("querying genes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var gene domain.Gene
		err := rows.Scan(&gene.GeneID, &gene.Symbol, &gene.Chrom, &gene.Start, &gene.End,
			&gene.GeneName, &gene.OmimNumber, &gene.MIMDisorders)
		if err != nil {
			return nil, fmt.Errorf("scanning gene row: %w", err)
		}
		genes[gene.GeneID] = &gene
		r.cache.Add(gene.GeneID, &gene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating gene rows: %w", err)
	}
	return genes, nil
}
