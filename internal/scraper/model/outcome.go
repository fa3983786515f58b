package model

// Status tags a per-identifier fetch result.
type Status int

const (
	// StatusDropped means the item could not be fetched or parsed this round.
	// It is left out of the report so the coordinator offers it again later.
	StatusDropped Status = iota
	StatusFound
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	default:
		return "dropped"
	}
}

// Outcome is the result for one identifier. Record is set only when Status is StatusFound.
type Outcome struct {
	ID     int64
	Status Status
	Record *Record
}

// Found wraps a parsed record.
func Found(rec Record) Outcome {
	return Outcome{ID: rec.ID, Status: StatusFound, Record: &rec}
}

// NotFound marks id as confirmed absent at the source.
func NotFound(id int64) Outcome {
	return Outcome{ID: id, Status: StatusNotFound}
}

// Dropped marks id as unresolved for this batch.
func Dropped(id int64) Outcome {
	return Outcome{ID: id, Status: StatusDropped}
}
