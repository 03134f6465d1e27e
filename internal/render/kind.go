package render

import (
	"fmt"
	"strings"
)

// Kind selects how an entity's buffer reacts to new points.
type Kind int

const (
	// KindTimeSeries appends (time, value) points into a FIFO window.
	KindTimeSeries Kind = iota
	// KindWaveform replaces the whole trace on every update.
	KindWaveform
	// KindSampleHistogram accumulates scalar observations.
	KindSampleHistogram
	// KindBarHistogram replaces publisher-computed bins wholesale.
	KindBarHistogram
)

func (k Kind) String() string {
	switch k {
	case KindTimeSeries:
		return "timeseries"
	case KindWaveform:
		return "waveform"
	case KindSampleHistogram:
		return "sample-histogram"
	case KindBarHistogram:
		return "bar-histogram"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindTimeSeries, KindWaveform, KindSampleHistogram, KindBarHistogram} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown entity kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Replaces reports whether an update overwrites the buffer instead of appending.
func (k Kind) Replaces() bool {
	return k == KindWaveform || k == KindBarHistogram
}

// Class is the refresh class an entity is serviced under.
type Class string

const (
	ClassTrace Class = "trace"
	ClassHist  Class = "hist"
)

// Class returns the refresh class of entities of this kind.
func (k Kind) Class() Class {
	if k == KindSampleHistogram || k == KindBarHistogram {
		return ClassHist
	}
	return ClassTrace
}

// Key prefixes. Bulk visibility operations select entities by prefix, so
// every trace-class key starts with PrefixPlot and every hist-class key with
// PrefixHist.
const (
	PrefixPlot     = "plot-"
	PrefixDiffPlot = "plot-diff-"
	PrefixHist     = "hist-"
	PrefixDiffHist = "hist-diff-"
	PrefixBarHist  = "hist-bar-"
)

// Slug strips every rune that is not an ASCII letter or digit.
//
// Slug is not injective: "ab - c" and "a - bc" both map to "abc", so two
// distinct titles can end up sharing one entity. Callers that need distinct
// entities must keep their titles distinct after slugging.
func Slug(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for i := 0; i < len(title); i++ {
		c := title[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Key builds an entity key from a prefix and a display title.
func Key(prefix, title string) string {
	return prefix + Slug(title)
}
