// Package lore turns ingested reference material into persistable volumes.
// A document-ingestion provider yields page-numbered text chunks; splitting
// packs them into ordered volumes under the store's per-document byte
// ceiling.
package lore

import (
	"github.com/louisbranch/tablesync/internal/campaign/domain"
	"github.com/louisbranch/tablesync/internal/errors"
	"github.com/louisbranch/tablesync/internal/platform/id"
)

// DefaultVolumeBytes leaves headroom under the store's 1 MiB document
// ceiling for encoding overhead and metadata.
const DefaultVolumeBytes = 900 << 10

// Chunk is one page-numbered text fragment from an ingested source
// document.
type Chunk struct {
	Page int
	Text string
}

// Ingester yields page-numbered text chunks given a source file.
type Ingester interface {
	Ingest(name string, data []byte) ([]Chunk, error)
}

// SplitVolumes packs chunks into volumes in order, greedily filling each
// volume up to ceiling bytes of text. A single chunk larger than the ceiling
// is split across volumes rather than rejected. Volume ids come from the
// injected generator.
func SplitVolumes(title string, chunks []Chunk, ceiling int, idGenerator func() (string, error)) ([]domain.LoreVolume, error) {
	if ceiling <= 0 {
		return nil, errors.Newf(errors.CodeLoreInvalidCeiling, "volume byte ceiling %d must be positive", ceiling)
	}
	if len(chunks) == 0 {
		return nil, errors.New(errors.CodeLoreEmptySource, "source document produced no chunks")
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	var volumes []domain.LoreVolume
	current := domain.LoreVolume{Title: title}

	flush := func() error {
		if len(current.Chunks) == 0 {
			return nil
		}
		volumeID, err := idGenerator()
		if err != nil {
			return err
		}
		current.ID = volumeID
		current.Seq = len(volumes)
		volumes = append(volumes, current)
		current = domain.LoreVolume{Title: title}
		return nil
	}

	for _, chunk := range chunks {
		for _, piece := range splitChunk(chunk, ceiling) {
			size := len(piece.Text)
			if current.Bytes+size > ceiling && len(current.Chunks) > 0 {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			current.Chunks = append(current.Chunks, domain.LoreChunk{Page: piece.Page, Text: piece.Text})
			current.Bytes += size
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return volumes, nil
}

// splitChunk slices an oversized chunk into ceiling-sized pieces keeping the
// page number. Splits fall on byte boundaries; chunk text is plain extracted
// text so mid-rune splits are tolerated downstream.
func splitChunk(chunk Chunk, ceiling int) []Chunk {
	if len(chunk.Text) <= ceiling {
		return []Chunk{chunk}
	}
	var pieces []Chunk
	text := chunk.Text
	for len(text) > 0 {
		n := ceiling
		if n > len(text) {
			n = len(text)
		}
		pieces = append(pieces, Chunk{Page: chunk.Page, Text: text[:n]})
		text = text[n:]
	}
	return pieces
}
