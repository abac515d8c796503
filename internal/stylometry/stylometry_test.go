package stylometry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/memgate/internal/model"
)

const aliceSample = `I keep notes on everything... the garden, the weather, the small
things that slip away otherwise. Does anyone else do this? Probably not! Still, it
helps me think, and thinking is half of living... or so I tell myself.`

func TestExtract_KnownText(t *testing.T) {
	f := Extract("Hello world. How are you? I am fine!")

	require.InDelta(t, 26.0/8, f.MeanWordLength, 1e-9)
	require.InDelta(t, 8.0/3, f.MeanSentenceLength, 1e-9)
	require.InDelta(t, 3.0/36, f.PunctuationRatio, 1e-9)
	require.InDelta(t, 3.0/26, f.UppercaseRatio, 1e-9)
	require.InDelta(t, 7.0/36, f.WhitespaceRatio, 1e-9)
	require.InDelta(t, 1.0, f.UniqueWordRatio, 1e-9)
	require.Zero(t, f.Ellipses)
	require.Equal(t, 1.0, f.Exclamations)
	require.Equal(t, 1.0, f.Questions)
}

func TestExtract_Counts(t *testing.T) {
	f := Extract("wait... what?! no… really?? the the THE")
	require.Equal(t, 2.0, f.Ellipses)
	require.Equal(t, 1.0, f.Exclamations)
	require.Equal(t, 3.0, f.Questions)
	require.Less(t, f.UniqueWordRatio, 1.0)
}

func TestExtract_Empty(t *testing.T) {
	require.Equal(t, model.Features{}, Extract(""))
	require.Equal(t, model.Features{WhitespaceRatio: 1}, Extract("   "))
}

func TestSimilarity_SelfIsOne(t *testing.T) {
	f := Extract(aliceSample)
	require.InDelta(t, 1.0, Similarity(f, f), 1e-12)
	require.InDelta(t, 1.0, Similarity(model.Features{}, model.Features{}), 1e-12)
}

func TestSimilarity_Symmetric(t *testing.T) {
	a := Extract(aliceSample)
	b := Extract(strings.ToUpper(aliceSample))
	require.InDelta(t, Similarity(a, b), Similarity(b, a), 1e-12)
}

func TestSimilarity_ScaledProfileIsFar(t *testing.T) {
	a := Extract(aliceSample)
	far := scale(a, 10)
	require.InDelta(t, 0.1*float64(nonZero(a))/9+float64(9-nonZero(a))/9, Similarity(a, far), 1e-9)
	require.Less(t, Similarity(a, far), DefaultThreshold)
}

func TestMatch(t *testing.T) {
	sample := Extract(aliceSample)
	profiles := []model.Profile{
		{OwnerID: "bob", Features: scale(sample, 10)},
		{OwnerID: "alice", Features: sample},
		{OwnerID: "carol", Features: scale(sample, 0.05)},
	}

	best, score, ok := Match(sample, profiles, DefaultThreshold)
	require.True(t, ok)
	require.Equal(t, "alice", best.OwnerID)
	require.InDelta(t, 1.0, score, 1e-12)

	best, score, ok = Match(sample, profiles[:1], DefaultThreshold)
	require.False(t, ok, "unrelated profile is rejected")
	require.Equal(t, "bob", best.OwnerID)
	require.Less(t, score, DefaultThreshold)

	_, score, ok = Match(sample, nil, DefaultThreshold)
	require.False(t, ok)
	require.Zero(t, score)
}

func TestAverage(t *testing.T) {
	a := model.Features{MeanWordLength: 4, Questions: 2}
	b := model.Features{MeanWordLength: 6, Exclamations: 4}
	require.Equal(t, model.Features{MeanWordLength: 5, Questions: 1, Exclamations: 2}, Average([]model.Features{a, b}))
	require.Equal(t, model.Features{}, Average(nil))
}

func scale(f model.Features, k float64) model.Features {
	v := vector(f)
	for i := range v {
		v[i] *= k
	}
	return fromVector(v)
}

func nonZero(f model.Features) int {
	n := 0
	for _, x := range vector(f) {
		if x != 0 {
			n++
		}
	}
	return n
}
