package model

// Report aggregates the outcomes of one batch. Dropped ids appear nowhere.
type Report struct {
	Submissions []Record `json:"submissions"`
	NotFound    []int64  `json:"notfound"`
	// Dropped counts ids left out of the report; it is not sent.
	Dropped int `json:"-"`
}

// NewReport returns a report whose sequences encode as [] rather than null.
func NewReport() Report {
	return Report{
		Submissions: []Record{},
		NotFound:    []int64{},
	}
}

// Add files one outcome into the report.
func (r *Report) Add(o Outcome) {
	switch o.Status {
	case StatusFound:
		if o.Record != nil {
			r.Submissions = append(r.Submissions, *o.Record)
			return
		}
		r.Dropped++
	case StatusNotFound:
		r.NotFound = append(r.NotFound, o.ID)
	default:
		r.Dropped++
	}
}

// Empty reports whether nothing was committed.
func (r Report) Empty() bool {
	return len(r.Submissions) == 0 && len(r.NotFound) == 0
}
