package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketForResolution(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		input *string
		want  ResolutionBucket
	}{
		{str("Granted"), ResolutionGranted},
		{str("  granted  "), ResolutionGranted},
		{str("Granted in Part"), ResolutionGrantedInPart},
		{str("EXEMPTED"), ResolutionExempted},
		{str("Rejected"), ResolutionRejected},
		{str("Pending"), ResolutionOther},
		{str(""), ResolutionOther},
		{nil, ResolutionOther},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, BucketForResolution(tc.input))
	}
}

func TestResolutionBuckets_Order(t *testing.T) {
	assert.Equal(t, []ResolutionBucket{
		ResolutionGranted,
		ResolutionGrantedInPart,
		ResolutionExempted,
		ResolutionRejected,
		ResolutionOther,
	}, ResolutionBuckets)
}
