package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/persist"
	"github.com/dsmforge/dsm/pkg/safeconv"
)

// Magic is the fixed 4-byte identifier at the start of every snapshot file
// (spec.md §6: "Header: magic bytes \"DSM1\"").
const Magic = "DSM1"

// CurrentFormatVersion is the format_version this build of the core writes
// and the only version Load accepts (spec.md §4.8/§7: a mismatch is
// errs.BaselineIncompatible, never silently migrated).
const CurrentFormatVersion = 1

// fileName is the fixed basename Save/Load use within dir.
const fileName = "dsm-snapshot"

// bodyCodec is the Codec for everything after the header: gob, wrapped in
// zstd (spec.md SPEC_FULL §2, "klauspost/compress (zstd) compresses the
// pkg/snapshot container body").
func bodyCodec() persist.Codec {
	return persist.NewZstdCodec(persist.NewGobCodec())
}

// Save writes snap to dir/<fileName><ext> following pkg/persist.Codec:
// a fixed header (magic, format_version, tool_version, created_at) written
// directly, then the gob+zstd body written through bodyCodec.
func Save(dir string, snap *Snapshot) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errs.Wrap(errs.InvalidInput, err, "create snapshot directory %q", dir)
	}

	path := filepath.Join(dir, fileName+bodyCodec().Extension())

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return errs.Wrap(errs.CacheError, err, "create temp snapshot file")
	}

	tmpPath := tmp.Name()

	if werr := writeSnapshot(tmp, snap); werr != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return werr
	}

	if cerr := tmp.Close(); cerr != nil {
		os.Remove(tmpPath)

		return errs.Wrap(errs.CacheError, cerr, "close temp snapshot file")
	}

	if rerr := os.Rename(tmpPath, path); rerr != nil {
		os.Remove(tmpPath)

		return errs.Wrap(errs.CacheError, rerr, "rename snapshot into place")
	}

	return nil
}

func writeSnapshot(w io.Writer, snap *Snapshot) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(Magic); err != nil {
		return errs.Wrap(errs.CacheError, err, "write snapshot magic")
	}

	if err := binary.Write(bw, binary.BigEndian, uint32(snap.FormatVersion)); err != nil { //nolint:gosec // format_version is a small fixed constant.
		return errs.Wrap(errs.CacheError, err, "write snapshot format_version")
	}

	if err := writeString(bw, snap.ToolVersion); err != nil {
		return errs.Wrap(errs.CacheError, err, "write snapshot tool_version")
	}

	if err := writeString(bw, snap.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
		return errs.Wrap(errs.CacheError, err, "write snapshot created_at")
	}

	if err := bodyCodec().Encode(bw, snap); err != nil {
		return errs.Wrap(errs.CacheError, err, "encode snapshot body")
	}

	if err := bw.Flush(); err != nil {
		return errs.Wrap(errs.CacheError, err, "flush snapshot file")
	}

	return nil
}

// Load reads the snapshot in dir and validates its format_version. Paths are
// stored project-root-relative and are returned as stored: Load does not
// renormalize them and does not use currentProjectRoot. The returned
// Snapshot's ProjectRootAtSave holds the root it was saved under.
func Load(dir string, currentProjectRoot string) (*Snapshot, error) {
	path := filepath.Join(dir, fileName+bodyCodec().Extension())

	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, err, "open snapshot file %q", path)
	}
	defer f.Close()

	snap, err := readSnapshot(f)
	if err != nil {
		return nil, err
	}

	if snap.FormatVersion != CurrentFormatVersion {
		return nil, errs.New(errs.BaselineIncompatible,
			"snapshot format_version %d does not match reader's %d", snap.FormatVersion, CurrentFormatVersion)
	}

	_ = currentProjectRoot // paths are already project-root-relative; see doc comment above.

	return snap, nil
}

func readSnapshot(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, err, "read snapshot magic")
	}

	if string(magic) != Magic {
		return nil, errs.New(errs.InvalidInput, "not a DSM snapshot file (bad magic %q)", magic)
	}

	var formatVersion uint32

	if err := binary.Read(br, binary.BigEndian, &formatVersion); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, err, "read snapshot format_version")
	}

	toolVersion, err := readString(br)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, err, "read snapshot tool_version")
	}

	createdAtStr, err := readString(br)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, err, "read snapshot created_at")
	}

	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, err, "parse snapshot created_at %q", createdAtStr)
	}

	var snap Snapshot

	if err := bodyCodec().Decode(br, &snap); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, err, "decode snapshot body")
	}

	// The header is authoritative for the fields checked before the body is
	// fully decoded; the body carries its own copies for self-containment
	// (e.g. when a Snapshot is passed around in memory without a header).
	snap.FormatVersion = int(formatVersion)
	snap.ToolVersion = toolVersion
	snap.CreatedAt = createdAt

	return &snap, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, safeconv.MustIntToUint32(len(s))); err != nil {
		return fmt.Errorf("write string length: %w", err)
	}

	_, err := io.WriteString(w, s)

	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32

	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read string body: %w", err)
	}

	return string(buf), nil
}
