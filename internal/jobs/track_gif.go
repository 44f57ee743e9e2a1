package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/fetch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/track"
)

// ErrNoTrackSource is returned when neither a collection nor an input file is set.
var ErrNoTrackSource = errors.New("track needs a collection or an input file")

// TrackGIFOptions configures TrackGIF.
type TrackGIFOptions struct {
	// Input is a local GeoJSON FeatureCollection. When set, the API is not queried.
	Input string

	Collection string

	// Datetime is a STAC datetime value or interval restricting the items.
	Datetime string

	// CorrID keeps only items whose monty:corr_id matches.
	CorrID string

	PageSize int
	Output   string
	Render   track.Options
}

// DefaultTrackGIFOptions returns the options of the track-gif job.
func DefaultTrackGIFOptions() TrackGIFOptions {
	return TrackGIFOptions{
		PageSize: 250,
		Output:   "track_animation.gif",
		Render:   track.DefaultOptions(),
	}
}

// TrackGIF renders the track of one hazard as a looping animated GIF, one
// frame per point in time order.
func TrackGIF(opts TrackGIFOptions) Job {
	def := DefaultTrackGIFOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.Output == "" {
		opts.Output = def.Output
	}

	return func(ctx context.Context, env *Env) (*Result, error) {
		res := &Result{}

		var points []track.Point
		var skipped int
		var err error
		switch {
		case opts.Input != "":
			points, skipped, err = loadTrackFile(opts.Input)
		case opts.Collection != "":
			points, skipped, err = fetchTrack(ctx, env, opts)
		default:
			err = ErrNoTrackSource
		}
		if err != nil {
			return res, err
		}
		if skipped > 0 {
			env.Logger.Warn().Int("skipped", skipped).Msg("Skipped items without a usable geometry")
		}
		env.Logger.Info().
			Int("points", len(points)).
			Time("first", points[0].Time).
			Time("last", points[len(points)-1].Time).
			Msg("Loaded track")

		out := env.Config.OutputPath(opts.Output)
		if err := track.RenderFile(out, points, opts.Render); err != nil {
			return res, fmt.Errorf("render track: %w", err)
		}
		res.Outputs = append(res.Outputs, out)
		env.Logger.Info().Str("path", out).Int("frames", len(points)).Msg("Wrote animation")

		return res, nil
	}
}

func loadTrackFile(path string) ([]track.Point, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open track input: %w", err)
	}
	defer f.Close()
	return track.LoadGeoJSON(f)
}

func fetchTrack(ctx context.Context, env *Env, opts TrackGIFOptions) ([]track.Point, int, error) {
	q := fetch.Query{
		Collection: opts.Collection,
		Datetime:   opts.Datetime,
		Limit:      opts.PageSize,
	}
	if opts.CorrID != "" {
		q.Extra = url.Values{
			"filter":      {fmt.Sprintf("\"%s\" = '%s'", stac.PropertyCorrID, opts.CorrID)},
			"filter-lang": {"cql2-text"},
		}
	}

	var features []*stac.Feature
	_, err := env.Fetcher.Items(ctx, q, func(f *stac.Feature) error {
		// servers without filter support return everything
		if opts.CorrID != "" && corrID(f) != opts.CorrID {
			return nil
		}
		features = append(features, f)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("fetch track items: %w", err)
	}

	points, skipped := track.FromFeatures(features)
	if len(points) == 0 {
		return nil, skipped, track.ErrNoPoints
	}
	return points, skipped, nil
}

func corrID(f *stac.Feature) string {
	s, _ := f.Properties[stac.PropertyCorrID].(string)
	return s
}
