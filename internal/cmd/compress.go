package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/internal/observability"
	"github.com/3leaps/bioindex/pkg/provider"
	"go.uber.org/zap"
)

// readKeyManifest reads one object key per line from path, the listing
// of shards under an index's prefix to transition, skipping blank lines.
func readKeyManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keys = append(keys, line)
	}
	return keys, scanner.Err()
}

var compressCmd = &cobra.Command{
	Use:   "compress <index> <path>",
	Short: "BGZF-compress the shards listed in a manifest",
	Long: `Compress rewrites each object key listed in path (one per line) as a
BGZF-compressed ".gz" object with a sibling ".gz.gzi" random-access
index, leaving the uncompressed original in place until
"remove-uncompressed-files" runs.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompress,
}

var decompressCmd = &cobra.Command{
	Use:   "decompress <index> <path>",
	Short: "Reverse a prior compress, restoring plain NDJSON objects",
	Args:  cobra.ExactArgs(2),
	RunE:  runDecompress,
}

var removeUncompressedCmd = &cobra.Command{
	Use:   "remove-uncompressed-files <index> <path>",
	Short: "Delete the plain-NDJSON originals after a successful compress",
	Args:  cobra.ExactArgs(2),
	RunE:  runRemoveUncompressed,
}

var (
	updateCompressedStatusCompress   bool
	updateCompressedStatusNoCompress bool
)

var updateCompressedStatusCmd = &cobra.Command{
	Use:   "update-compressed-status <index> <path> -c|--no-compress",
	Short: "Flip the catalog's compressed flag for an index",
	Long: `update-compressed-status sets the catalog's compressed flag without
touching any blob-store object; path is accepted for symmetry with the
other lifecycle verbs but is unused here.`,
	Args: cobra.ExactArgs(2),
	RunE: runUpdateCompressedStatus,
}

func init() {
	rootCmd.AddCommand(compressCmd, decompressCmd, removeUncompressedCmd, updateCompressedStatusCmd)
	updateCompressedStatusCmd.Flags().BoolVarP(&updateCompressedStatusCompress, "compress", "c", false, "mark the index compressed")
	updateCompressedStatusCmd.Flags().BoolVar(&updateCompressedStatusNoCompress, "no-compress", false, "mark the index uncompressed")
	updateCompressedStatusCmd.MarkFlagsMutuallyExclusive("compress", "no-compress")
	updateCompressedStatusCmd.MarkFlagsOneRequired("compress", "no-compress")
}

func runCompress(cmd *cobra.Command, args []string) error {
	index, path := args[0], args[1]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("compress", err)
	}
	defer a.close()

	keys, err := readKeyManifest(path)
	if err != nil {
		return exitError("compress", err)
	}

	getter, ok := a.provider.(provider.ObjectGetter)
	if !ok {
		return exitError("compress", fmt.Errorf("provider does not support GetObject"))
	}
	putter, ok := a.provider.(provider.ObjectPutter)
	if !ok {
		return exitError("compress", fmt.Errorf("provider does not support PutObject"))
	}

	for _, key := range keys {
		if err := compressOne(cmd.Context(), getter, putter, key); err != nil {
			return exitError("compress", fmt.Errorf("%s: %w", key, err))
		}
		observability.CLILogger.Info("compressed shard", zap.String("index", index), zap.String("key", key))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "compressed %d shard(s) for %s\n", len(keys), index)
	return nil
}

// compressOne rewrites key as key+".gz" (BGZF) plus key+".gz.gzi" (the
// raw gzi random-access index recordstore's bgzf.go reads, named after
// the ".gz" object; Index Rows keep the uncompressed key as object_key),
// flushing a new BGZF block every blockRecords lines so the gzi index
// has useful seek granularity without tracking per-line offsets.
func compressOne(ctx context.Context, getter provider.ObjectGetter, putter provider.ObjectPutter, key string) error {
	body, _, err := getter.GetObject(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	var compressedBuf bytes.Buffer
	bw := bgzf.NewWriter(&compressedBuf, 1)

	var gzi bytes.Buffer
	var entries [][2]uint64
	entries = append(entries, [2]uint64{0, 0})

	const blockRecords = 2048
	scanner := bufio.NewScanner(&limitedReader{r: body})
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var uncompressed uint64
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if _, err := bw.Write([]byte("\n")); err != nil {
			return err
		}
		uncompressed += uint64(len(line)) + 1
		count++
		if count%blockRecords == 0 {
			// Flush ends the current block; Wait drains the async
			// compressor so compressedBuf.Len() is the true block boundary.
			if err := bw.Flush(); err != nil {
				return err
			}
			if err := bw.Wait(); err != nil {
				return err
			}
			entries = append(entries, [2]uint64{uint64(compressedBuf.Len()), uncompressed})
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := bw.Close(); err != nil {
		return err
	}

	writeGziEntries(&gzi, entries)

	if err := putter.PutObject(ctx, key+".gz", &compressedBuf, int64(compressedBuf.Len())); err != nil {
		return err
	}
	if err := putter.PutObject(ctx, key+".gz.gzi", &gzi, int64(gzi.Len())); err != nil {
		return err
	}
	return nil
}

// writeGziEntries encodes entries in the little-endian (compressed,
// uncompressed) uint64-pair format that recordstore's parseGzi reads:
// an 8-byte count followed by count 16-byte entries.
func writeGziEntries(buf *bytes.Buffer, entries [][2]uint64) {
	putUint64LE(buf, uint64(len(entries)))
	for _, e := range entries {
		putUint64LE(buf, e[0])
		putUint64LE(buf, e[1])
	}
}

func putUint64LE(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	buf.Write(b[:])
}

// limitedReader adapts an io.ReadCloser body to io.Reader for
// bufio.Scanner without exposing Close to the scanner.
type limitedReader struct{ r io.Reader }

func (l *limitedReader) Read(p []byte) (int, error) { return l.r.Read(p) }

func runDecompress(cmd *cobra.Command, args []string) error {
	index, path := args[0], args[1]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("decompress", err)
	}
	defer a.close()

	keys, err := readKeyManifest(path)
	if err != nil {
		return exitError("decompress", err)
	}

	getter, ok := a.provider.(provider.ObjectGetter)
	if !ok {
		return exitError("decompress", fmt.Errorf("provider does not support GetObject"))
	}
	putter, ok := a.provider.(provider.ObjectPutter)
	if !ok {
		return exitError("decompress", fmt.Errorf("provider does not support PutObject"))
	}
	deleter, ok := a.provider.(provider.ObjectDeleter)
	if !ok {
		return exitError("decompress", fmt.Errorf("provider does not support DeleteObject"))
	}

	for _, key := range keys {
		if err := decompressOne(cmd.Context(), getter, putter, deleter, key); err != nil {
			return exitError("decompress", fmt.Errorf("%s: %w", key, err))
		}
		observability.CLILogger.Info("decompressed shard", zap.String("index", index), zap.String("key", key))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decompressed %d shard(s) for %s\n", len(keys), index)
	return nil
}

func decompressOne(ctx context.Context, getter provider.ObjectGetter, putter provider.ObjectPutter, deleter provider.ObjectDeleter, key string) error {
	body, _, err := getter.GetObject(ctx, key+".gz")
	if err != nil {
		return err
	}
	defer body.Close()

	br, err := bgzf.NewReader(body, 0)
	if err != nil {
		return err
	}
	defer br.Close()

	var plain bytes.Buffer
	if _, err := io.Copy(&plain, br); err != nil {
		return err
	}

	if err := putter.PutObject(ctx, key, &plain, int64(plain.Len())); err != nil {
		return err
	}
	_ = deleter.DeleteObject(ctx, key+".gz.gzi")
	return deleter.DeleteObject(ctx, key+".gz")
}

func runRemoveUncompressed(cmd *cobra.Command, args []string) error {
	index, path := args[0], args[1]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("remove-uncompressed-files", err)
	}
	defer a.close()

	keys, err := readKeyManifest(path)
	if err != nil {
		return exitError("remove-uncompressed-files", err)
	}

	deleter, ok := a.provider.(provider.ObjectDeleter)
	if !ok {
		return exitError("remove-uncompressed-files", fmt.Errorf("provider does not support DeleteObject"))
	}

	for _, key := range keys {
		if err := deleter.DeleteObject(cmd.Context(), key); err != nil {
			return exitError("remove-uncompressed-files", fmt.Errorf("%s: %w", key, err))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d uncompressed shard(s) for %s\n", len(keys), index)
	return nil
}

func runUpdateCompressedStatus(cmd *cobra.Command, args []string) error {
	index := args[0]
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("update-compressed-status", err)
	}
	defer a.close()

	compressed := updateCompressedStatusCompress && !updateCompressedStatusNoCompress
	if err := a.cat.SetCompressed(cmd.Context(), index, compressed); err != nil {
		return exitError("update-compressed-status", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: compressed=%v\n", index, compressed)
	return nil
}
