package dictionary

// List is a heterogeneous ordered sequence of Values, used directly as the
// payload type for CSCP command arguments and multi-value STAT samples. It
// is a thin convenience wrapper around a Value of KindList; the homogeneity
// and wire-encoding rules live on Value itself so there is exactly one
// implementation of "is this array a vector or a list".
type List []Value

// ToValue converts l into a single List-kind Value.
func (l List) ToValue() Value { return NewList(l...) }

// ListFromValue extracts the elements of a List or vector Value as a List.
// It returns ok=false for scalar and None Values.
func ListFromValue(v Value) (List, bool) {
	if v.Kind() != KindList && !v.Kind().IsVector() {
		return nil, false
	}
	return List(v.Elems()), true
}

// Strings builds a List of string Values.
func Strings(ss ...string) List {
	l := make(List, len(ss))
	for i, s := range ss {
		l[i] = NewString(s)
	}
	return l
}

// Ints builds a List of int Values.
func Ints(is ...int64) List {
	l := make(List, len(is))
	for i, v := range is {
		l[i] = NewInt(v)
	}
	return l
}
