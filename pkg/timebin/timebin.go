// Package timebin partitions a global time range into ordered, contiguous,
// non-overlapping bins used to split STAC item queries.
package timebin

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned when a partition policy cannot produce bins.
var ErrInvalidPolicy = errors.New("invalid partition policy")

// stacTimeLayout is the RFC3339 form used in STAC datetime intervals.
const stacTimeLayout = "2006-01-02T15:04:05Z"

// Bin is one closed interval [Start, End] of the partitioned timeline.
// Consecutive bins satisfy next.Start == prev.End + time.Second.
type Bin struct {
	Label string
	Start time.Time
	End   time.Time
}

// Interval returns the bin as a STAC datetime interval ("start/end").
func (b Bin) Interval() string {
	return FormatSTACTime(b.Start) + "/" + FormatSTACTime(b.End)
}

// Contains reports whether t falls within the bin.
func (b Bin) Contains(t time.Time) bool {
	return !t.Before(b.Start) && !t.After(b.End)
}

// String implements fmt.Stringer.
func (b Bin) String() string {
	return b.Label
}

// Policy produces the bin sequence for a given "now".
type Policy interface {
	Bins(now time.Time) ([]Bin, error)
}

// Segment is one run of fixed-width year bins. A segment with Until == 0 runs
// until the current year.
type Segment struct {
	From  int // first year of the segment
	Until int // first year after the segment (exclusive), 0 = open
	Width int // years per bin
}

// Years partitions calendar years into fixed-width bins, segment by segment.
// Bin boundaries fall on January 1st 00:00:00 and December 31st 23:59:59 UTC;
// the final bin is clipped to the end of the current UTC day.
type Years struct {
	Segments []Segment
}

// Fixed returns a single-segment policy of width-year bins starting at startYear.
func Fixed(startYear, width int) Years {
	return Years{Segments: []Segment{{From: startYear, Width: width}}}
}

// Tiered returns the century/half-century policy: 100-year bins from 1600 to
// 1799, then 50-year bins from 1800 onwards.
func Tiered() Years {
	return Years{Segments: []Segment{
		{From: 1600, Until: 1800, Width: 100},
		{From: 1800, Width: 50},
	}}
}

// Bins implements Policy.
func (p Years) Bins(now time.Time) ([]Bin, error) {
	if len(p.Segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrInvalidPolicy)
	}

	clip := EndOfDay(now)
	currentYear := clip.Year()

	var bins []Bin
	for i, seg := range p.Segments {
		if seg.Width <= 0 {
			return nil, fmt.Errorf("%w: segment %d width must be positive, got %d", ErrInvalidPolicy, i, seg.Width)
		}
		if i > 0 && seg.From != p.Segments[i-1].Until {
			return nil, fmt.Errorf("%w: segment %d starts at %d, previous ends at %d", ErrInvalidPolicy, i, seg.From, p.Segments[i-1].Until)
		}
		if seg.Until != 0 && seg.Until <= seg.From {
			return nil, fmt.Errorf("%w: segment %d is empty", ErrInvalidPolicy, i)
		}

		limit := seg.Until
		if limit == 0 || limit > currentYear+1 {
			limit = currentYear + 1
		}

		for year := seg.From; year < limit; year += seg.Width {
			endYear := year + seg.Width - 1
			if endYear >= limit {
				endYear = limit - 1
			}

			start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			end := time.Date(endYear, time.December, 31, 23, 59, 59, 0, time.UTC)
			if end.After(clip) {
				end = clip
			}

			bins = append(bins, Bin{
				Label: fmt.Sprintf("%d-%d", year, endYear),
				Start: start,
				End:   end,
			})
		}
	}

	if len(bins) == 0 {
		return nil, fmt.Errorf("%w: start year %d is after %d", ErrInvalidPolicy, p.Segments[0].From, currentYear)
	}

	return bins, nil
}

// Chunks partitions [Start, now] into chunks of Years*365 days. Chunk labels are
// "<start year>-<end year>" and may repeat a boundary year.
type Chunks struct {
	Start time.Time
	Years int
}

// Chunked returns a Chunks policy starting on January 1st of startYear.
func Chunked(startYear, years int) Chunks {
	return Chunks{
		Start: time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC),
		Years: years,
	}
}

// Bins implements Policy.
func (p Chunks) Bins(now time.Time) ([]Bin, error) {
	if p.Years <= 0 {
		return nil, fmt.Errorf("%w: chunk years must be positive, got %d", ErrInvalidPolicy, p.Years)
	}

	clip := EndOfDay(now)
	horizon := clip.Add(time.Second)
	start := p.Start.UTC()
	if !start.Before(horizon) {
		return nil, fmt.Errorf("%w: start %s is after %s", ErrInvalidPolicy, FormatSTACTime(start), FormatSTACTime(clip))
	}

	width := time.Duration(p.Years) * 365 * 24 * time.Hour

	var bins []Bin
	for start.Before(horizon) {
		next := start.Add(width)
		if next.After(horizon) {
			next = horizon
		}

		// Closed on both ends: stop one second short of the next chunk.
		end := next.Add(-time.Second)
		labelEnd := next.Year()
		if next.Equal(horizon) {
			labelEnd = end.Year()
		}

		bins = append(bins, Bin{
			Label: fmt.Sprintf("%d-%d", start.Year(), labelEnd),
			Start: start,
			End:   end,
		})
		start = next
	}

	return bins, nil
}

// EndOfDay returns the last second of now's UTC calendar day. Final bins are
// clipped to it so every run on the same day queries the same intervals.
func EndOfDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// Labels returns the bin labels in order.
func Labels(bins []Bin) []string {
	labels := make([]string, len(bins))
	for i, b := range bins {
		labels[i] = b.Label
	}
	return labels
}

// FormatSTACTime formats t as a UTC RFC3339 timestamp for STAC queries.
func FormatSTACTime(t time.Time) string {
	return t.UTC().Format(stacTimeLayout)
}
