// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package daily

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// months are Ukrainian month names in the genitive case, as used in dates
// ("5 листопада").
var months = [...]string{
	time.January:   "січня",
	time.February:  "лютого",
	time.March:     "березня",
	time.April:     "квітня",
	time.May:       "травня",
	time.June:      "червня",
	time.July:      "липня",
	time.August:    "серпня",
	time.September: "вересня",
	time.October:   "жовтня",
	time.November:  "листопада",
	time.December:  "грудня",
}

var lower = cases.Lower(language.Ukrainian)

// DateKey returns the object name of the article for the date of t, for
// example "11-05 (5 листопада).txt". It panics if t has an out-of-range
// month, which never happens for a valid time.Time.
func DateKey(t time.Time) string {
	return dateKey(t.Month(), t.Day())
}

func dateKey(m time.Month, day int) string {
	if m < time.January || m > time.December {
		panic(fmt.Sprintf("daily: month %d out of range", m))
	}
	return lower.String(fmt.Sprintf("%02d-%02d (%d %s).txt", int(m), day, day, months[m]))
}
