package service

import (
	"context"
	"fmt"
	"time"

	"github.com/variant-curation-server/internal/domain"
)

type fakeResultStore struct {
	descriptors   map[string]*domain.SearchResultDescriptor // keyed by hash|sort
	nextID        int64
	setResultsFor []int64
	resetProjects []string
	savedSearches []*domain.VariantSearch
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{descriptors: map[string]*domain.SearchResultDescriptor{}}
}

func descriptorKey(hash, sort string) string { return hash + "|" + sort }

func (s *fakeResultStore) Get(_ context.Context, hash, sort string) (*domain.SearchResultDescriptor, error) {
	return s.descriptors[descriptorKey(hash, sort)], nil
}

func (s *fakeResultStore) GetAnySort(_ context.Context, hash string) (*domain.SearchResultDescriptor, error) {
	for _, d := range s.descriptors {
		if d.SearchHash == hash {
			return d, nil
		}
	}
	return nil, nil
}

func (s *fakeResultStore) CreateOrGet(_ context.Context, d *domain.SearchResultDescriptor) (*domain.SearchResultDescriptor, error) {
	key := descriptorKey(d.SearchHash, d.Sort)
	if existing, ok := s.descriptors[key]; ok {
		return existing, nil
	}
	s.nextID++
	d.ID = s.nextID
	s.descriptors[key] = d
	return d, nil
}

func (s *fakeResultStore) SetResults(_ context.Context, id, total int64, esIndex string) error {
	s.setResultsFor = append(s.setResultsFor, id)
	for _, d := range s.descriptors {
		if d.ID == id && d.TotalResults == nil {
			t := total
			idx := esIndex
			d.TotalResults = &t
			d.ESIndex = &idx
		}
	}
	return nil
}

func (s *fakeResultStore) ResetForProject(_ context.Context, projectGUID string) error {
	s.resetProjects = append(s.resetProjects, projectGUID)
	return nil
}

func (s *fakeResultStore) SavedSearches(_ context.Context, _ string) ([]*domain.VariantSearch, error) {
	return s.savedSearches, nil
}

func (s *fakeResultStore) CreateSavedSearch(_ context.Context, search *domain.VariantSearch) error {
	s.savedSearches = append(s.savedSearches, search)
	return nil
}

type fakeGateway struct {
	page       *domain.SearchPage
	single     *domain.Variant
	byKey      []*domain.Variant
	err        error
	lastSort   string
	searchHits int
}

func (g *fakeGateway) Search(_ context.Context, d *domain.SearchResultDescriptor, _, _ int) (*domain.SearchPage, error) {
	g.searchHits++
	g.lastSort = d.Sort
	if g.err != nil {
		return nil, g.err
	}
	return g.page, nil
}

func (g *fakeGateway) SingleVariant(_ context.Context, _ []string, _ string) (*domain.Variant, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.single == nil {
		return nil, domain.ErrNotFound
	}
	return g.single, nil
}

func (g *fakeGateway) VariantsForKeys(_ context.Context, _ []string, _ []domain.VariantKey) ([]*domain.Variant, error) {
	return g.byKey, g.err
}

type fakeSavedVariantStore struct {
	variants []*domain.SavedVariant
	updated  map[string][]byte
}

func newFakeSavedVariantStore(variants ...*domain.SavedVariant) *fakeSavedVariantStore {
	return &fakeSavedVariantStore{variants: variants, updated: map[string][]byte{}}
}

func (s *fakeSavedVariantStore) FindForKeys(_ context.Context, familyGUIDs []string, keys []domain.VariantKey) ([]*domain.SavedVariant, error) {
	families := make(map[string]struct{}, len(familyGUIDs))
	for _, f := range familyGUIDs {
		families[f] = struct{}{}
	}
	wanted := make(map[domain.VariantKey]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}
	var out []*domain.SavedVariant
	for _, sv := range s.variants {
		if _, ok := families[sv.FamilyGUID]; !ok {
			continue
		}
		if _, ok := wanted[sv.Key()]; ok {
			out = append(out, sv)
		}
	}
	return out, nil
}

func (s *fakeSavedVariantStore) GetOrCreate(_ context.Context, key domain.VariantKey, familyGUID, projectGUID string) (*domain.SavedVariant, error) {
	for _, sv := range s.variants {
		if sv.Key() == key && sv.FamilyGUID == familyGUID {
			return sv, nil
		}
	}
	sv := &domain.SavedVariant{
		GUID:        fmt.Sprintf("SV_%d", len(s.variants)),
		Xpos:        key.Xpos,
		Ref:         key.Ref,
		Alt:         key.Alt,
		FamilyGUID:  familyGUID,
		ProjectGUID: projectGUID,
	}
	s.variants = append(s.variants, sv)
	return sv, nil
}

func (s *fakeSavedVariantStore) UpdateAnnotation(_ context.Context, guid string, annotation []byte) error {
	s.updated[guid] = annotation
	return nil
}

func (s *fakeSavedVariantStore) ListTagged(_ context.Context, projectGUID string) ([]*domain.SavedVariant, error) {
	var out []*domain.SavedVariant
	for _, sv := range s.variants {
		if sv.ProjectGUID == projectGUID && len(sv.Tags) > 0 {
			out = append(out, sv)
		}
	}
	return out, nil
}

func (s *fakeSavedVariantStore) ListForProject(_ context.Context, projectGUID string) ([]*domain.SavedVariant, error) {
	var out []*domain.SavedVariant
	for _, sv := range s.variants {
		if sv.ProjectGUID == projectGUID {
			out = append(out, sv)
		}
	}
	return out, nil
}

type fakeProjectRepo struct {
	projects    map[string]*domain.Project
	families    []*domain.Family
	individuals []*domain.Individual
	samples     []*domain.Sample
	locusLists  map[string][]*domain.LocusList
	mme         map[string]bool // projectGUID|familyID
	mmeErr      error
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{
		projects:   map[string]*domain.Project{},
		locusLists: map[string][]*domain.LocusList{},
		mme:        map[string]bool{},
	}
}

func (r *fakeProjectRepo) Project(_ context.Context, guid string) (*domain.Project, error) {
	p, ok := r.projects[guid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (r *fakeProjectRepo) FamiliesByGUID(_ context.Context, guids []string) ([]*domain.Family, error) {
	wanted := make(map[string]struct{}, len(guids))
	for _, g := range guids {
		wanted[g] = struct{}{}
	}
	var out []*domain.Family
	for _, f := range r.families {
		if _, ok := wanted[f.GUID]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) FamiliesForProject(_ context.Context, projectGUID string) ([]*domain.Family, error) {
	var out []*domain.Family
	for _, f := range r.families {
		if f.ProjectGUID == projectGUID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) IndividualsForFamilies(_ context.Context, familyGUIDs []string) ([]*domain.Individual, error) {
	wanted := make(map[string]struct{}, len(familyGUIDs))
	for _, g := range familyGUIDs {
		wanted[g] = struct{}{}
	}
	var out []*domain.Individual
	for _, ind := range r.individuals {
		if _, ok := wanted[ind.FamilyGUID]; ok {
			out = append(out, ind)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) LoadedSamples(_ context.Context, projectGUID string, before time.Time) ([]*domain.Sample, error) {
	familyProjects := make(map[string]string)
	for _, f := range r.families {
		familyProjects[f.GUID] = f.ProjectGUID
	}
	var out []*domain.Sample
	for _, s := range r.samples {
		if familyProjects[s.FamilyGUID] != projectGUID {
			continue
		}
		if s.Status == domain.SampleStatusLoaded && s.LoadedDate != nil && s.LoadedDate.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) ProjectGUIDsForFamilies(_ context.Context, familyGUIDs []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(familyGUIDs))
	for _, g := range familyGUIDs {
		wanted[g] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, f := range r.families {
		if _, ok := wanted[f.GUID]; !ok {
			continue
		}
		if _, ok := seen[f.ProjectGUID]; !ok {
			seen[f.ProjectGUID] = struct{}{}
			out = append(out, f.ProjectGUID)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) LocusListsForProject(_ context.Context, projectGUID string) ([]*domain.LocusList, error) {
	return r.locusLists[projectGUID], nil
}

func (r *fakeProjectRepo) HasMatchmakerSubmission(_ context.Context, projectGUID, familyID string) (bool, error) {
	if r.mmeErr != nil {
		return false, r.mmeErr
	}
	return r.mme[projectGUID+"|"+familyID], nil
}

type fakeGeneRepo struct {
	genes map[string]*domain.Gene
}

func (r *fakeGeneRepo) GenesByID(_ context.Context, geneIDs []string) (map[string]*domain.Gene, error) {
	out := make(map[string]*domain.Gene)
	for _, id := range geneIDs {
		if g, ok := r.genes[id]; ok {
			out[id] = g
		}
	}
	return out, nil
}

type fakePermissions struct {
	denied map[string]struct{}
	checks []string
}

func (p *fakePermissions) CheckAccess(_ context.Context, user *domain.User, projectGUID string) error {
	p.checks = append(p.checks, projectGUID)
	if _, ok := p.denied[projectGUID]; ok {
		return &domain.PermissionDeniedError{UserID: user.ID, ProjectGUID: projectGUID}
	}
	return nil
}

type fakeOmim struct {
	series map[string]string
	errs   map[string]error
	calls  []string
}

func (o *fakeOmim) PhenotypicSeriesID(_ context.Context, omimNumber string) (string, error) {
	o.calls = append(o.calls, omimNumber)
	if err := o.errs[omimNumber]; err != nil {
		return "", err
	}
	return o.series[omimNumber], nil
}
