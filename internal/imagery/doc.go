// Package imagery resolves the before and after image patterns for a run
// into concrete gs:// paths and verifies the area-of-interest file exists.
//
// Resolution happens once, up front, so every later stage works from the
// persisted path lists instead of re-listing the bucket. A pattern that
// matches nothing resolves to an empty list; the stage logs it loudly and
// lets example generation surface the hard failure.
package imagery
