package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInheritanceSet(t *testing.T) {
	s := NewInheritanceSet(DeNovo, XLinked)
	assert.True(t, s.Has(DeNovo))
	assert.False(t, s.Has(ARCompHet))

	s.Add(ARCompHet)
	assert.True(t, s.Has(ARCompHet))

	assert.Equal(t, []InheritanceModel{ARCompHet, XLinked, DeNovo}, s.Sorted())
	assert.Equal(t, "AR-comphet, X-linked, de novo", s.String())
}

func TestVariantID(t *testing.T) {
	v := &Variant{Chrom: "1", Pos: 248367227, Ref: "TC", Alt: "T"}
	assert.Equal(t, "1-248367227-TC-T", v.ID())
}

func TestVariantIsXLinked(t *testing.T) {
	assert.True(t, (&Variant{Chrom: "X"}).IsXLinked())
	assert.True(t, (&Variant{Chrom: "chrX"}).IsXLinked())
	assert.False(t, (&Variant{Chrom: "7"}).IsXLinked())
	assert.False(t, (&Variant{Chrom: "Y"}).IsXLinked())
	// no label, xpos range decides
	assert.True(t, (&Variant{Xpos: 23017220127}).IsXLinked())
	assert.False(t, (&Variant{Xpos: 7017220127}).IsXLinked())
}

func TestVariantGeneIDs(t *testing.T) {
	v := &Variant{Transcripts: map[string][]Transcript{
		"ENSG00000186092": nil,
		"ENSG00000012048": nil,
	}}
	assert.Equal(t, []string{"ENSG00000012048", "ENSG00000186092"}, v.GeneIDs())
}

func TestVariantIDFromKey(t *testing.T) {
	id, err := VariantIDFromKey(VariantKey{Xpos: 23017220127, Ref: "A", Alt: "G"})
	require.NoError(t, err)
	assert.Equal(t, "X-17220127-A-G", id)

	_, err = VariantIDFromKey(VariantKey{Xpos: 99000000001, Ref: "A", Alt: "G"})
	assert.Error(t, err)
}
