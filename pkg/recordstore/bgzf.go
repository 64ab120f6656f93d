package recordstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/biogo/hts/bgzf"

	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/provider"
)

// compressedKey maps a shard's canonical object key to the BGZF object
// that replaces it after the compression lifecycle runs. Index Rows keep
// the canonical key, so a pre-compression build keeps answering queries
// after the shards are swapped for their ".gz" forms.
func compressedKey(key string) string {
	if strings.HasSuffix(key, ".gz") {
		return key
	}
	return key + ".gz"
}

// gziEntry marks the start of a BGZF block: its compressed file offset and
// the count of uncompressed bytes preceding it.
type gziEntry struct {
	Compressed   int64
	Uncompressed int64
}

// gziCache memoizes parsed ".gzi" indexes per object key, since a build or
// query session typically issues many ranged reads against the same shard.
type gziCache struct {
	mu      sync.Mutex
	entries map[string][]gziEntry
}

func newGziCache() *gziCache {
	return &gziCache{entries: make(map[string][]gziEntry)}
}

func (c *gziCache) get(ctx context.Context, p provider.Provider, key string) ([]gziEntry, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	getter, ok := p.(provider.ObjectGetter)
	if !ok {
		return nil, bioerr.New(bioerr.BlobReadError, "gzi", "provider does not support whole-object reads")
	}
	body, _, err := getter.GetObject(ctx, key+".gzi")
	if err != nil {
		return nil, bioerr.Wrap(bioerr.BlobReadError, "gzi", err)
	}
	defer func() { _ = body.Close() }()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.BlobReadError, "gzi", err)
	}
	entries, err := parseGzi(raw)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.CorruptShard, "gzi", err)
	}

	c.mu.Lock()
	c.entries[key] = entries
	c.mu.Unlock()
	return entries, nil
}

// parseGzi parses the bgzip ".gzi" format: a little-endian uint64 entry
// count, followed by that many (compressed-offset, uncompressed-offset)
// uint64 pairs, each marking a BGZF block boundary. An implicit entry
// (0, 0) for the first block is prepended.
func parseGzi(raw []byte) ([]gziEntry, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("gzi index too short")
	}
	count := binary.LittleEndian.Uint64(raw[0:8])
	want := 8 + int(count)*16
	if len(raw) < want {
		return nil, fmt.Errorf("gzi index truncated: want %d bytes, have %d", want, len(raw))
	}

	entries := make([]gziEntry, 0, count+1)
	entries = append(entries, gziEntry{Compressed: 0, Uncompressed: 0})
	off := 8
	for i := uint64(0); i < count; i++ {
		c := int64(binary.LittleEndian.Uint64(raw[off : off+8]))
		u := int64(binary.LittleEndian.Uint64(raw[off+8 : off+16]))
		entries = append(entries, gziEntry{Compressed: c, Uncompressed: u})
		off += 16
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Uncompressed < entries[j].Uncompressed })
	return entries, nil
}

// blockFor returns the index of the last entry whose Uncompressed offset
// is <= target.
func blockFor(entries []gziEntry, target int64) int {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Uncompressed > target })
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// fetchCompressed resolves an uncompressed byte range [start, end) against
// a BGZF object's ".gzi" sibling index, downloads the covering compressed
// byte range, and decompresses exactly the requested uncompressed span.
func (s *Store) fetchCompressed(ctx context.Context, key string, start, end int64) ([]byte, error) {
	gzKey := compressedKey(key)

	entries, err := s.gzi.get(ctx, s.provider, gzKey)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, bioerr.New(bioerr.CorruptShard, "fetchCompressed", "empty gzi index for "+gzKey)
	}

	startBlock := blockFor(entries, start)
	endBlock := blockFor(entries, end-1)

	compStart := entries[startBlock].Compressed
	var compEnd int64 = -1 // -1 means "read to end of object"
	if endBlock+1 < len(entries) {
		compEnd = entries[endBlock+1].Compressed
	}

	if compEnd < 0 {
		meta, err := s.provider.Head(ctx, gzKey)
		if err != nil {
			return nil, bioerr.Wrap(bioerr.BlobReadError, "fetchCompressed", err)
		}
		compEnd = meta.Size
	}

	compressed, err := s.getRangeRetry(ctx, gzKey, compStart, compEnd-1)
	if err != nil {
		return nil, err
	}

	// bytes.Reader satisfies io.ReadSeeker, which Seek below requires of
	// the underlying reader.
	br, err := bgzf.NewReader(bytes.NewReader(compressed), 1)
	if err != nil {
		return nil, bioerr.Wrap(bioerr.CorruptShard, "fetchCompressed", err)
	}
	defer func() { _ = br.Close() }()

	// Seek to the within-block uncompressed offset of the first needed
	// block. File offsets in br are relative to the slice we downloaded,
	// so the block we asked for starts at virtual file offset 0.
	withinBlock := start - entries[startBlock].Uncompressed
	if err := br.Seek(bgzf.Offset{File: 0, Block: uint16(withinBlock)}); err != nil {
		return nil, bioerr.Wrap(bioerr.CorruptShard, "fetchCompressed", err)
	}

	out := make([]byte, end-start)
	n, err := io.ReadFull(br, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, bioerr.Wrap(bioerr.BlobReadError, "fetchCompressed", err)
	}
	return out[:n], nil
}
