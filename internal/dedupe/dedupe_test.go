package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryhub/internal/domain"
)

func TestFingerprintIgnoresCaseAndPunctuation(t *testing.T) {
	a := Fingerprint("The Deploy Runs at 9am!")
	b := Fingerprint("the deploy runs at 9am")
	require.Equal(t, a, b)
}

func TestFingerprintDiffersOnDifferentContent(t *testing.T) {
	a := Fingerprint("the deploy runs at 9am")
	b := Fingerprint("the deploy runs at 10am")
	require.NotEqual(t, a, b)
}

func TestTrigramSimilarityIdenticalStringsIsOne(t *testing.T) {
	require.Equal(t, 1.0, TrigramSimilarity("quarterly roadmap review", "quarterly roadmap review"))
}

func TestTrigramSimilarityUnrelatedStringsIsLow(t *testing.T) {
	sim := TrigramSimilarity("quarterly roadmap review", "the cat sat on the mat")
	require.Less(t, sim, 0.3)
}

func TestFindNearDuplicatePicksClosestAboveThreshold(t *testing.T) {
	candidates := []*domain.Memory{
		{ID: "1", Content: "quarterly roadmap review notes"},
		{ID: "2", Content: "completely unrelated content about lunch"},
	}
	found := FindNearDuplicate("quarterly roadmap review note", candidates)
	require.NotNil(t, found)
	require.Equal(t, "1", found.ID)
}

func TestFindNearDuplicateReturnsNilBelowThreshold(t *testing.T) {
	candidates := []*domain.Memory{
		{ID: "1", Content: "something entirely different"},
	}
	found := FindNearDuplicate("quarterly roadmap review notes", candidates)
	require.Nil(t, found)
}

func TestMergeReplaceUsesNewContent(t *testing.T) {
	existing := &domain.Memory{Content: "old content"}
	require.Equal(t, "new content", Merge(MergeReplace, existing, "new content"))
}

func TestMergeAppendConcatenates(t *testing.T) {
	existing := &domain.Memory{Content: "old content"}
	require.Equal(t, "old content\n\nnew detail", Merge(MergeAppend, existing, "new detail"))
}

func TestMergeSmartSkipsExactSubstringRepeat(t *testing.T) {
	existing := &domain.Memory{Content: "the full quarterly roadmap review notes"}
	require.Equal(t, existing.Content, Merge(MergeSmart, existing, "quarterly roadmap review"))
}

func TestMergeSmartAppendsGenuinelyNewDetail(t *testing.T) {
	existing := &domain.Memory{Content: "quarterly roadmap review"}
	merged := Merge(MergeSmart, existing, "also covers budget")
	require.Equal(t, "quarterly roadmap review\n\nalso covers budget", merged)
}

func TestMergeSmartKeepsIncomingWhenItIsTheLongerSuperset(t *testing.T) {
	existing := &domain.Memory{Content: "quarterly roadmap review"}
	merged := Merge(MergeSmart, existing, "the full quarterly roadmap review notes")
	require.Equal(t, "the full quarterly roadmap review notes", merged)
}

func TestMergeAutoMemorylaneAlwaysAppends(t *testing.T) {
	existing := &domain.Memory{Content: "the full quarterly roadmap review notes"}
	merged := Merge(MergeAutoMemorylane, existing, "quarterly roadmap review")
	require.Equal(t, "the full quarterly roadmap review notes\n\nquarterly roadmap review", merged)
}

func TestWindowSinceComputesLowerBound(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	since := WindowSince(now, time.Hour)
	require.Equal(t, now.Add(-time.Hour), since)
}
