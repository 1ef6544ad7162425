// Package xpos encodes a chromosome and position into a single integer so
// that genomic coordinates sort and range-compare correctly across
// chromosomes.
package xpos

import (
	"fmt"
	"strings"
)

// chromOffset is the per-chromosome block size; positions never exceed it.
const chromOffset = int64(1e9)

var chromOrder = []string{
	"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12",
	"13", "14", "15", "16", "17", "18", "19", "20", "21", "22",
	"X", "Y", "M",
}

var chromToNum = func() map[string]int64 {
	m := make(map[string]int64, len(chromOrder))
	for i, c := range chromOrder {
		m[c] = int64(i + 1)
	}
	return m
}()

// Encode converts a chromosome label and 1-based position to an xpos.
// Chromosome labels may carry a "chr" prefix; "MT" is treated as "M".
func Encode(chrom string, pos int64) (int64, error) {
	c := strings.TrimPrefix(chrom, "chr")
	if c == "MT" {
		c = "M"
	}
	num, ok := chromToNum[c]
	if !ok {
		return 0, fmt.Errorf("invalid chromosome: %q", chrom)
	}
	if pos < 0 || pos >= chromOffset {
		return 0, fmt.Errorf("position out of range: %d", pos)
	}
	return num*chromOffset + pos, nil
}

// Decode converts an xpos back to its chromosome label and position.
func Decode(xpos int64) (string, int64, error) {
	num := xpos / chromOffset
	if num < 1 || num > int64(len(chromOrder)) {
		return "", 0, fmt.Errorf("invalid xpos: %d", xpos)
	}
	return chromOrder[num-1], xpos % chromOffset, nil
}

// IsX reports whether the xpos lies on the X chromosome.
func IsX(xpos int64) bool {
	return xpos/chromOffset == chromToNum["X"]
}
