package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/vk/pdctl/internal/product"
)

// WriteStats prints per-project file statistics grouped by corpus, with a
// subtotal per corpus and a product total. stats must be ordered by corpus.
func WriteStats(w io.Writer, stats []product.ProjectStats) error {
	var (
		corpus          string
		files, total    int
		size, totalSize int64
		opened          bool
	)
	flush := func() error {
		if !opened {
			return nil
		}
		_, err := fmt.Fprintf(w, "  %s files, %s\n\n", humanize.Comma(int64(files)), humanize.IBytes(uint64(size)))
		return err
	}

	for _, st := range stats {
		if !opened || st.Corpus != corpus {
			if err := flush(); err != nil {
				return err
			}
			corpus, files, size, opened = st.Corpus, 0, 0, true
			if _, err := fmt.Fprintf(w, "%s:\n", corpus); err != nil {
				return err
			}
		}
		files += st.Files
		size += st.Bytes
		total += st.Files
		totalSize += st.Bytes
		if _, err := fmt.Fprintf(w, "  %-40s %8s files %10s\n", st.ID, humanize.Comma(int64(st.Files)), humanize.IBytes(uint64(st.Bytes))); err != nil {
			return err
		}
	}
	if err := flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d projects, %s files, %s\n", len(stats), humanize.Comma(int64(total)), humanize.IBytes(uint64(totalSize)))
	return err
}
