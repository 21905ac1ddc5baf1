package zipfs

import "hash/crc32"

// crc32Of computes the standard ZIP CRC-32 (IEEE polynomial) of buf, used
// to verify a fully decompressed entry's contents against the value
// recorded in its central directory record.
func crc32Of(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}
