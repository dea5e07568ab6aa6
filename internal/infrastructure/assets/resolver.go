// Package assets resolves lesson units to media files on local storage.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
)

// UnitPlaceholder is replaced by the unit number in a file name pattern.
const UnitPlaceholder = "{n}"

// DefaultPattern matches the lesson1.mp4 ... lesson7.mp4 layout.
const DefaultPattern = "lesson{n}.mp4"

// ErrInvalidPattern is returned for a pattern without the unit placeholder.
var ErrInvalidPattern = errors.New("assets: pattern must contain " + UnitPlaceholder)

// DirResolver finds unit media in one directory by file name pattern.
type DirResolver struct {
	dir     string
	pattern string
}

// NewDirResolver creates a resolver over dir. An empty pattern means DefaultPattern.
func NewDirResolver(dir, pattern string) (*DirResolver, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !strings.Contains(pattern, UnitPlaceholder) || strings.ContainsRune(pattern, filepath.Separator) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	return &DirResolver{dir: dir, pattern: pattern}, nil
}

// Dir returns the media directory.
func (r *DirResolver) Dir() string { return r.dir }

// FileName returns the file name of unit.
func (r *DirResolver) FileName(unit int) string {
	return strings.ReplaceAll(r.pattern, UnitPlaceholder, strconv.Itoa(unit))
}

// Resolve implements delivery.AssetResolver. A missing file wraps
// delivery.ErrAssetNotFound; any other I/O error is returned as is.
func (r *DirResolver) Resolve(ctx context.Context, unit int) (delivery.AssetHandle, error) {
	if err := ctx.Err(); err != nil {
		return delivery.AssetHandle{}, err
	}
	if unit < 1 {
		return delivery.AssetHandle{}, fmt.Errorf("%w: unit %d", delivery.ErrAssetNotFound, unit)
	}

	name := r.FileName(unit)
	path := filepath.Join(r.dir, name)

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return delivery.AssetHandle{}, fmt.Errorf("%w: unit %d (%s)", delivery.ErrAssetNotFound, unit, path)
	case err != nil:
		return delivery.AssetHandle{}, fmt.Errorf("assets: stat %s: %w", path, err)
	case !info.Mode().IsRegular():
		return delivery.AssetHandle{}, fmt.Errorf("%w: unit %d (%s is not a regular file)", delivery.ErrAssetNotFound, unit, path)
	}

	return delivery.AssetHandle{
		Unit: unit,
		Path: path,
		Name: name,
		Size: info.Size(),
	}, nil
}

// Missing lists the units in [1, total] that have no media file.
func (r *DirResolver) Missing(ctx context.Context, total int) ([]int, error) {
	var missing []int
	for unit := 1; unit <= total; unit++ {
		_, err := r.Resolve(ctx, unit)
		switch {
		case errors.Is(err, delivery.ErrAssetNotFound):
			missing = append(missing, unit)
		case err != nil:
			return nil, err
		}
	}
	return missing, nil
}
