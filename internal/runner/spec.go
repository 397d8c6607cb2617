package runner

import (
	"fmt"

	v1 "github.com/infracollect/zipstream/apis/v1"
)

// ResolvedSpec holds a kind identifier and the spec for that kind.
type ResolvedSpec struct {
	Kind string
	Spec any
}

// ResolveSourceSpec extracts the source kind and spec of an entry. Exactly
// one source must be set.
func ResolveSourceSpec(e v1.Entry) (ResolvedSpec, error) {
	var found []ResolvedSpec
	if e.File != nil {
		found = append(found, ResolvedSpec{Kind: "file", Spec: e.File})
	}
	if e.S3 != nil {
		found = append(found, ResolvedSpec{Kind: "s3", Spec: e.S3})
	}
	if e.HTTP != nil {
		found = append(found, ResolvedSpec{Kind: "http", Spec: e.HTTP})
	}
	if e.Inline != nil {
		found = append(found, ResolvedSpec{Kind: "inline", Spec: e.Inline})
	}

	switch len(found) {
	case 0:
		return ResolvedSpec{}, fmt.Errorf("entry %q has no source specified", e.Path)
	case 1:
		return found[0], nil
	default:
		return ResolvedSpec{}, fmt.Errorf("entry %q has %d sources specified, expected one", e.Path, len(found))
	}
}

// ResolveSinkSpec extracts the sink kind and spec from the output section.
// Without an output section the archive goes to stdout.
func ResolveSinkSpec(o *v1.OutputSpec) (ResolvedSpec, error) {
	if o == nil || o.Sink == nil {
		return ResolvedSpec{Kind: "stdout", Spec: &v1.StdoutSink{}}, nil
	}

	switch {
	case o.Sink.Stdout != nil:
		return ResolvedSpec{Kind: "stdout", Spec: o.Sink.Stdout}, nil
	case o.Sink.Filesystem != nil:
		return ResolvedSpec{Kind: "filesystem", Spec: o.Sink.Filesystem}, nil
	case o.Sink.S3 != nil:
		return ResolvedSpec{Kind: "s3", Spec: o.Sink.S3}, nil
	default:
		return ResolvedSpec{}, fmt.Errorf("invalid sink configuration: no sink type specified")
	}
}
