package kline

import "strings"

// Interpretation is the normalized form of one YearlyFact
type Interpretation struct {
	Effect    LifePeriodEffect
	Relation  RelationClass
	Judgement Judgement
	Echoes    []Echo
}

type relationKeywords struct {
	class    RelationClass
	keywords []string
}

// Compound tags are more specific than the single-character forms they contain,
// so they are matched in a separate first pass.
var compoundRelations = []relationKeywords{
	{RelationMutualClash, []string{"相冲", "mutual-clash", "mutual clash"}},
	{RelationMutualHarm, []string{"相害", "mutual-harm", "mutual harm"}},
	{RelationMutualGeneration, []string{"相生", "mutual-generation", "mutual generation"}},
}

var singleRelations = []relationKeywords{
	{RelationClash, []string{"冲", "clash"}},
	{RelationHarm, []string{"害", "harm"}},
	{RelationDomination, []string{"克", "domination"}},
	{RelationHalfCombine, []string{"半合", "half-combine", "half combine"}},
	{RelationCombine, []string{"合", "combine"}},
	{RelationGeneration, []string{"生", "generation"}},
}

var echoKeywords = []struct {
	echo     Echo
	keywords []string
}{
	{EchoSelfReinforcement, []string{"伏吟", "self-reinforcement", "self reinforcement"}},
	{EchoSelfReversal, []string{"反吟", "self-reversal", "self reversal"}},
}

// Interpret maps a fact to its rule-table key. A nil fact means no information
// for that age and yields (Neutral, NoRelation).
func Interpret(fact *YearlyFact) Interpretation {
	if fact == nil {
		return Interpretation{
			Effect:    EffectNeutral,
			Relation:  RelationNone,
			Judgement: JudgementBalanced,
		}
	}

	return Interpretation{
		Effect:    ParseEffect(string(fact.LifePeriodEffect)),
		Relation:  ClassifyRelation(fact.RelationTags),
		Judgement: ParseJudgement(string(fact.Judgement)),
		Echoes:    detectEchoes(fact),
	}
}

// ClassifyRelation resolves free-form tags to one class. Within each pass the
// tags are scanned in order and the first tag that matches any class wins.
func ClassifyRelation(tags []string) RelationClass {
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}

	for _, pass := range [][]relationKeywords{compoundRelations, singleRelations} {
		for _, tag := range normalized {
			for _, rk := range pass {
				if containsAny(tag, rk.keywords) {
					return rk.class
				}
			}
		}
	}
	return RelationNone
}

func detectEchoes(fact *YearlyFact) []Echo {
	var echoes []Echo
	narrative := strings.ToLower(fact.Narrative)
	for _, ek := range echoKeywords {
		found := containsAny(narrative, ek.keywords)
		for _, tag := range fact.RelationTags {
			if found {
				break
			}
			found = containsAny(strings.ToLower(tag), ek.keywords)
		}
		if found {
			echoes = append(echoes, ek.echo)
		}
	}
	return echoes
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
