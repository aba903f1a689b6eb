// Package calendar derives the natal chart and per-age calendar labels.
package calendar

import (
	"sort"

	"github.com/ternarybob/fateline/internal/models"
)

// ChildhoodLabel is the period label for ages before the first luck period
const ChildhoodLabel = "童限"

var (
	heavenlyStems   = []string{"甲", "乙", "丙", "丁", "戊", "己", "庚", "辛", "壬", "癸"}
	earthlyBranches = []string{"子", "丑", "寅", "卯", "辰", "巳", "午", "未", "申", "酉", "戌", "亥"}
)

// YearGanZhi returns the sexagenary label of a lunar year. 1984 is 甲子.
func YearGanZhi(year int) string {
	idx := ((year-4)%60 + 60) % 60
	return heavenlyStems[idx%10] + earthlyBranches[idx%12]
}

// YearLabel maps an age (1 = birth year) to its calendar year and cycle label
func YearLabel(age, birthYear int) (int, string) {
	year := birthYear + age - 1
	return year, YearGanZhi(year)
}

// PeriodTable resolves the luck period active at an age
type PeriodTable struct {
	periods []models.DaYunInfo
}

// NewPeriodTable sorts periods by start age
func NewPeriodTable(periods []models.DaYunInfo) *PeriodTable {
	sorted := append([]models.DaYunInfo(nil), periods...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartAge < sorted[j].StartAge })
	return &PeriodTable{periods: sorted}
}

// Period returns the label of the last period starting at or before age
func (t *PeriodTable) Period(age int) string {
	label := ChildhoodLabel
	for _, p := range t.periods {
		if p.StartAge > age {
			break
		}
		label = p.GanZhi
	}
	return label
}

// Labeler fills year and label metadata for the K-line engine
type Labeler struct {
	birthYear int
	periods   *PeriodTable
}

// NewLabeler builds a labeler from a natal chart
func NewLabeler(bazi *models.BaZiInfo) *Labeler {
	return &Labeler{
		birthYear: bazi.BirthYear,
		periods:   NewPeriodTable(bazi.DaYunList),
	}
}

// Label implements kline.Labeler
func (l *Labeler) Label(age int) (int, string, string) {
	year, cycle := YearLabel(age, l.birthYear)
	return year, cycle, l.periods.Period(age)
}
