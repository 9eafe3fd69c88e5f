package eligibility

import (
	"errors"
	"fmt"
	"strings"
)

// AggregationErrorKind classifies evaluation outcomes that are not a clean success
type AggregationErrorKind int

const (
	KindPartialFailure AggregationErrorKind = iota
	KindTotalFailure
)

func (k AggregationErrorKind) String() string {
	switch k {
	case KindPartialFailure:
		return "partial_failure"
	case KindTotalFailure:
		return "total_failure"
	default:
		return "unknown"
	}
}

var (
	ErrPartialFailure = errors.New("partial failure")
	ErrTotalFailure   = errors.New("total failure")
)

// AggregationError names the chains that failed. Only TotalFailure is ever returned from
// Evaluate; PartialFailure is available through Report.PartialError.
type AggregationError struct {
	Kind   AggregationErrorKind
	Chains []int64
}

func (e *AggregationError) Error() string {
	ids := make([]string, len(e.Chains))
	for i, id := range e.Chains {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%s: chains [%s]", e.Kind, strings.Join(ids, ","))
}

func (e *AggregationError) Is(target error) bool {
	switch target {
	case ErrPartialFailure:
		return e.Kind == KindPartialFailure
	case ErrTotalFailure:
		return e.Kind == KindTotalFailure
	}
	return false
}
