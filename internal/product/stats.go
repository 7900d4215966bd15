package product

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/pdctl/internal/fsutil"
	"github.com/vk/pdctl/internal/manifest"
	"github.com/vk/pdctl/internal/project"
)

// ProjectStats summarises the files of one project.
type ProjectStats struct {
	ID     project.ID
	Corpus string // first path element of the id
	Files  int
	Bytes  int64
}

// Stats reports file counts and sizes for every indexed project, ordered by
// corpus and id. Nested projects and hidden directories are not counted.
func (p *Product) Stats(ctx context.Context) ([]ProjectStats, error) {
	ids, err := p.Projects()
	if err != nil {
		return nil, err
	}

	out := make([]ProjectStats, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := filepath.Join(p.Root, filepath.FromSlash(string(id)))
		st := ProjectStats{ID: id, Corpus: strings.SplitN(string(id), "/", 2)[0]}
		err := fsutil.Walk(dir, isProjectDir, func(_ string, d fs.DirEntry) error {
			info, err := d.Info()
			if err != nil {
				return err
			}
			st.Files++
			st.Bytes += info.Size()
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Corpus != out[j].Corpus {
			return out[i].Corpus < out[j].Corpus
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func isProjectDir(dir string) bool {
	return fsutil.HasFile(dir, manifest.FileName)
}
