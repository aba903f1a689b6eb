package calendar

import (
	"errors"
	"fmt"
	"time"

	lunar "github.com/6tail/lunar-go/calendar"

	"github.com/ternarybob/fateline/internal/models"
)

// ErrInvalidDate is returned when the birth date does not exist
var ErrInvalidDate = errors.New("invalid birth date")

const (
	// referenceLongitude is the meridian of UTC+8 civil time
	referenceLongitude = 120.0
	// minutesPerDegree of longitude
	minutesPerDegree = 4.0
	// lateZiSect counts 23:00-24:00 as the following day
	lateZiSect = 2
	// luckPeriods is how many ten-year periods are reported
	luckPeriods = 10
)

// SolarTime returns the birth time adjusted from civil time to true solar time
// using the longitude offset from 120°E. Without a longitude the civil time is used.
func SolarTime(req *models.BirthRequest) (time.Time, error) {
	t := time.Date(req.Year, time.Month(req.Month), req.Day, req.Hour, req.Minute, 0, 0, time.UTC)
	if t.Year() != req.Year || int(t.Month()) != req.Month || t.Day() != req.Day {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, req.Year, req.Month, req.Day)
	}
	if req.Longitude != nil {
		offset := int((*req.Longitude - referenceLongitude) * minutesPerDegree)
		t = t.Add(time.Duration(offset) * time.Minute)
	}
	return t, nil
}

// Calculate derives the four pillars, lunar date and the first luck periods
func Calculate(req *models.BirthRequest) (*models.BaZiInfo, error) {
	t, err := SolarTime(req)
	if err != nil {
		return nil, err
	}

	solar := lunar.NewSolar(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), 0)
	lunarDate := solar.GetLunar()
	eightChar := lunarDate.GetEightChar()
	eightChar.SetSect(lateZiSect)

	gender := 0
	if req.IsMale() {
		gender = 1
	}
	yun := eightChar.GetYun(gender)

	info := &models.BaZiInfo{
		YearPillar:  eightChar.GetYearGan() + eightChar.GetYearZhi(),
		MonthPillar: eightChar.GetMonthGan() + eightChar.GetMonthZhi(),
		DayPillar:   eightChar.GetDayGan() + eightChar.GetDayZhi(),
		HourPillar:  eightChar.GetTimeGan() + eightChar.GetTimeZhi(),
		SolarTime:   solar.ToYmdHms(),
		LunarDate:   lunarDate.String(),
		BirthYear:   req.Year,
	}

	// Index 0 is the span before the first period starts.
	daYun := yun.GetDaYunBy(luckPeriods + 1)
	for i := 1; i < len(daYun); i++ {
		dy := daYun[i]
		info.DaYunList = append(info.DaYunList, models.DaYunInfo{
			StartAge:  dy.GetStartAge(),
			StartYear: dy.GetStartYear(),
			GanZhi:    dy.GetGanZhi(),
		})
	}

	return info, nil
}
