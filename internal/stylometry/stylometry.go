// Package stylometry extracts a writing-style feature vector from free text
// and scores how closely two vectors match. It is a best-effort recovery
// signal, not a biometric.
package stylometry

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/and161185/memgate/internal/model"
)

// MinSampleLength is the minimum sample size in characters.
const MinSampleLength = 100

// DefaultThreshold is the minimum similarity accepted as a match.
const DefaultThreshold = 0.65

const epsilon = 1e-9

var (
	wordRe     = regexp.MustCompile(`[\p{L}\p{N}']+`)
	sentenceRe = regexp.MustCompile(`[.!?…]+`)
)

// Extract computes the feature vector of text.
func Extract(text string) model.Features {
	var f model.Features
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return f
	}

	words := wordRe.FindAllString(text, -1)
	if n := len(words); n > 0 {
		letters := 0
		seen := make(map[string]struct{}, n)
		for _, w := range words {
			letters += utf8.RuneCountInString(w)
			seen[strings.ToLower(w)] = struct{}{}
		}
		f.MeanWordLength = float64(letters) / float64(n)
		f.UniqueWordRatio = float64(len(seen)) / float64(n)

		sentences := 0
		for _, s := range sentenceRe.Split(text, -1) {
			if wordRe.MatchString(s) {
				sentences++
			}
		}
		if sentences == 0 {
			sentences = 1
		}
		f.MeanSentenceLength = float64(n) / float64(sentences)
	}

	var punct, upper, alpha, space int
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space++
		case unicode.IsPunct(r):
			punct++
		case unicode.IsLetter(r):
			alpha++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	f.PunctuationRatio = float64(punct) / float64(total)
	f.WhitespaceRatio = float64(space) / float64(total)
	if alpha > 0 {
		f.UppercaseRatio = float64(upper) / float64(alpha)
	}

	f.Ellipses = float64(strings.Count(text, "...") + strings.Count(text, "…"))
	f.Exclamations = float64(strings.Count(text, "!"))
	f.Questions = float64(strings.Count(text, "?"))
	return f
}

// Average returns the element-wise mean of the vectors.
func Average(vs []model.Features) model.Features {
	var out model.Features
	if len(vs) == 0 {
		return out
	}
	acc := make([]float64, len(vector(out)))
	for _, v := range vs {
		for i, x := range vector(v) {
			acc[i] += x
		}
	}
	for i := range acc {
		acc[i] /= float64(len(vs))
	}
	return fromVector(acc)
}

// Similarity scores two vectors in [0,1]. Each feature contributes
// 1 - |a-b| / max(|a|, |b|, ε); the result is the mean.
func Similarity(a, b model.Features) float64 {
	va, vb := vector(a), vector(b)
	sum := 0.0
	for i := range va {
		den := math.Max(math.Max(math.Abs(va[i]), math.Abs(vb[i])), epsilon)
		s := 1 - math.Abs(va[i]-vb[i])/den
		sum += math.Max(0, math.Min(1, s))
	}
	return sum / float64(len(va))
}

// Match finds the profile most similar to sample. ok is false when the best
// score is below threshold or there are no profiles.
func Match(sample model.Features, profiles []model.Profile, threshold float64) (best model.Profile, score float64, ok bool) {
	score = -1
	for _, p := range profiles {
		if s := Similarity(sample, p.Features); s > score {
			best, score = p, s
		}
	}
	if score < 0 {
		return model.Profile{}, 0, false
	}
	return best, score, score >= threshold
}

func vector(f model.Features) []float64 {
	return []float64{
		f.MeanWordLength,
		f.MeanSentenceLength,
		f.PunctuationRatio,
		f.UppercaseRatio,
		f.WhitespaceRatio,
		f.UniqueWordRatio,
		f.Ellipses,
		f.Exclamations,
		f.Questions,
	}
}

func fromVector(v []float64) model.Features {
	return model.Features{
		MeanWordLength:     v[0],
		MeanSentenceLength: v[1],
		PunctuationRatio:   v[2],
		UppercaseRatio:     v[3],
		WhitespaceRatio:    v[4],
		UniqueWordRatio:    v[5],
		Ellipses:           v[6],
		Exclamations:       v[7],
		Questions:          v[8],
	}
}
