package orchestration

import (
	"context"
	"errors"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/raster"
	"github.com/agbru/xenarch/internal/tiling"
)

// SplitSource opens ref and splits its extent. On success the caller owns
// the returned source and must close it. Open failures that are not already
// typed are reported as SourceReadError; invalid lattices as ConfigError.
func SplitSource(ctx context.Context, opener raster.Opener, ref string, p tiling.Params) (raster.Source, []tiling.Tile, error) {
	src, err := opener.Open(ctx, ref)
	if err != nil {
		var srcErr apperrors.SourceReadError
		if apperrors.IsContextError(err) || errors.As(err, &srcErr) {
			return nil, nil, err
		}
		return nil, nil, apperrors.SourceReadError{Ref: ref, Cause: err}
	}
	tiles, err := tiling.Split(src.Width(), src.Height(), p)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return src, tiles, nil
}
