package backup

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dekarrin/rowsync"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Magic is the first four bytes of every backup file.
const Magic = "RSBK"

// FormatVersion is the version of the container format written by Marshal.
const FormatVersion byte = 1

const headerSize = len(Magic) + 1 + 32

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("backup: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("backup: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("backup: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("backup: zstd decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes s into the backup container format. The same snapshot always
// produces the same bytes.
func Marshal(s Snapshot) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	payload, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(payload, nil)
	sum := blake3.Sum256(compressed)

	data := make([]byte, 0, headerSize+len(compressed))
	data = append(data, Magic...)
	data = append(data, FormatVersion)
	data = append(data, sum[:]...)
	data = append(data, compressed...)
	return data, nil
}

// Unmarshal decodes a snapshot from the backup container format. It returns an
// error wrapping rowsync.ErrCorruptBlob if data is not an intact backup.
func Unmarshal(data []byte) (Snapshot, error) {
	if len(data) < headerSize || string(data[:len(Magic)]) != Magic {
		return Snapshot{}, rowsync.NewError("not a backup file", rowsync.ErrCorruptBlob)
	}
	if v := data[len(Magic)]; v != FormatVersion {
		return Snapshot{}, rowsync.NewError(fmt.Sprintf("unsupported backup version %d", v), rowsync.ErrCorruptBlob)
	}

	wantSum := data[len(Magic)+1 : headerSize]
	compressed := data[headerSize:]
	gotSum := blake3.Sum256(compressed)
	if !bytes.Equal(wantSum, gotSum[:]) {
		return Snapshot{}, rowsync.NewError("backup checksum mismatch", rowsync.ErrCorruptBlob)
	}

	payload, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return Snapshot{}, rowsync.NewError(fmt.Sprintf("zstd decompress: %v", err), rowsync.ErrCorruptBlob)
	}

	var s Snapshot
	if err := decMode.Unmarshal(payload, &s); err != nil {
		return Snapshot{}, rowsync.NewError(fmt.Sprintf("decode snapshot: %v", err), rowsync.ErrCorruptBlob)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, rowsync.NewError(err.Error(), rowsync.ErrCorruptBlob)
	}
	return s, nil
}

// WriteFile writes s to the named file in the backup container format.
func WriteFile(file string, s Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, data, 0660); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// ReadFile reads a snapshot from the named file.
func ReadFile(file string) (Snapshot, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read backup: %w", err)
	}
	return Unmarshal(data)
}
