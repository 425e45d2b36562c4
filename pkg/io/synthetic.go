package io

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/exp/rand"
)

type SyntheticParameters struct {
	Rows      int
	Positives int
	Seed      uint64
	Allocator memory.Allocator
}

var (
	jobs       = []string{"admin.", "blue-collar", "entrepreneur", "housemaid", "management", "retired", "self-employed", "services", "student", "technician", "unemployed"}
	maritals   = []string{"divorced", "married", "single"}
	educations = []string{"basic.4y", "basic.6y", "basic.9y", "high.school", "professional.course", "university.degree"}
	yesNo      = []string{"no", "yes"}
	contacts   = []string{"cellular", "telephone"}
	months     = []string{"apr", "aug", "dec", "jul", "jun", "mar", "may", "nov", "oct", "sep"}
	weekdays   = []string{"fri", "mon", "thu", "tue", "wed"}
)

// SyntheticTable generates a raw bank-shaped table (label column "y" with yes/no values) holding
// exactly p.Positives positive rows. Subscribers see lower employment and euribor rates, fewer
// contacts and more previous successes, so those features carry signal while the rest are noise.
func SyntheticTable(p SyntheticParameters) (*RecordTable, error) {
	if p.Rows <= 0 || p.Positives < 0 || p.Positives > p.Rows {
		return nil, fmt.Errorf("invalid synthetic table size: %d rows, %d positives", p.Rows, p.Positives)
	}
	rnd := rand.New(rand.NewSource(p.Seed))

	positive := make([]bool, p.Rows)
	for _, i := range rnd.Perm(p.Rows)[:p.Positives] {
		positive[i] = true
	}

	numeric := map[string][]float64{}
	for _, col := range NumericColumns {
		numeric[col] = make([]float64, p.Rows)
	}
	categorical := map[string][]string{}
	for _, col := range []string{"job", "marital", "education", "default", "housing", "loan", "contact", "month", "day_of_week", "poutcome"} {
		categorical[col] = make([]string, p.Rows)
	}
	labels := make([]string, p.Rows)

	pick := func(values []string) string {
		return values[rnd.Intn(len(values))]
	}
	for i := 0; i < p.Rows; i++ {
		yes := positive[i]
		shift := 0.0
		if yes {
			shift = 1
			labels[i] = "yes"
		} else {
			labels[i] = "no"
		}

		numeric["age"][i] = math.Round(math.Min(95, math.Max(18, 40+rnd.NormFloat64()*10)))
		numeric["duration"][i] = math.Round(math.Max(1, 250+shift*300+rnd.NormFloat64()*120))
		numeric["campaign"][i] = float64(1 + rnd.Intn(6-int(shift)*3))

		previous := 0.0
		pdays := float64(NotPreviouslyContacted)
		outcome := "nonexistent"
		if rnd.Float64() < 0.15+shift*0.3 {
			previous = float64(1 + rnd.Intn(3))
			pdays = float64(rnd.Intn(27))
			outcome = "failure"
			if rnd.Float64() < 0.2+shift*0.6 {
				outcome = "success"
			}
		}
		numeric["previous"][i] = previous
		numeric["pdays"][i] = pdays
		categorical["poutcome"][i] = outcome

		numeric["emp.var.rate"][i] = math.Round((1.1-shift*2.5+rnd.NormFloat64()*1.2)*10) / 10
		numeric["cons.price.idx"][i] = math.Round((93.5+rnd.NormFloat64()*0.5)*1000) / 1000
		numeric["cons.conf.idx"][i] = math.Round((-40+rnd.NormFloat64()*4)*10) / 10
		numeric["euribor3m"][i] = math.Round(math.Max(0.6, 4.5-shift*2.8+rnd.NormFloat64()*1.0)*1000) / 1000
		numeric["nr.employed"][i] = math.Round((5190-shift*140+rnd.NormFloat64()*60)*10) / 10

		categorical["job"][i] = pick(jobs)
		categorical["marital"][i] = pick(maritals)
		categorical["education"][i] = pick(educations)
		categorical["default"][i] = yesNo[0]
		if rnd.Float64() < 0.2 {
			categorical["default"][i] = "unknown"
		}
		categorical["housing"][i] = pick(yesNo)
		categorical["loan"][i] = pick(yesNo)
		categorical["contact"][i] = pick(contacts)
		categorical["month"][i] = pick(months)
		categorical["day_of_week"][i] = pick(weekdays)
	}

	b := NewTableBuilder(p.Allocator)
	b.AddFloat64("age", numeric["age"])
	for _, col := range []string{"job", "marital", "education", "default", "housing", "loan", "contact", "month", "day_of_week"} {
		b.AddString(col, categorical[col])
	}
	for _, col := range []string{"duration", "campaign", "pdays", "previous"} {
		b.AddFloat64(col, numeric[col])
	}
	b.AddString("poutcome", categorical["poutcome"])
	for _, col := range []string{"emp.var.rate", "cons.price.idx", "cons.conf.idx", "euribor3m", "nr.employed"} {
		b.AddFloat64(col, numeric[col])
	}
	b.AddString(LabelColumn, labels)
	return b.Build()
}
