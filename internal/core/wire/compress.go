package wire

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
)

// CompressThreshold is the minimum encoded ComponentShard payload size, in
// bytes, before zstd compression is applied (DOMAIN addition, SPEC_FULL.md
// §7). Small shards are left uncompressed; the framing overhead would
// outweigh the savings.
const CompressThreshold = 4096

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(err)
		}
		zstdEnc = enc
	})
	return zstdEnc
}

func decoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		zstdDec = dec
	})
	return zstdDec
}

// MaybeCompress compresses payload with zstd if it is at least
// CompressThreshold bytes, returning the (possibly unchanged) bytes and
// whether compression was applied. Callers set HeaderEncoding accordingly.
func MaybeCompress(payload []byte) ([]byte, bool) {
	if len(payload) < CompressThreshold {
		return payload, false
	}
	return encoder().EncodeAll(payload, nil), true
}

// Decompress reverses MaybeCompress.
func Decompress(payload []byte) ([]byte, error) {
	out, err := decoder().DecodeAll(payload, nil)
	if err != nil {
		return nil, ecserr.ErrDecode
	}
	return out, nil
}
