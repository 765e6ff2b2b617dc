// Package query runs the read pipeline over a merged record collection:
// filter, then sort, then paginate.
//
// Every stage is a pure function of its input and never fails on well-formed
// criteria. Criteria are validated when they are built (NewPagination,
// NewSortCriteria, NewFilterCriteria) and field names are checked against a
// Registry, which is the only way the pipeline reads record fields.
//
// Filtering is conjunctive and case-insensitive over the string form of a
// field. Sorting is stable: records that compare equal keep the order they
// arrived in, which for the repository is the merge order (local records
// first, newest first, then the remote order).
package query
