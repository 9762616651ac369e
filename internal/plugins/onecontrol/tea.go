package onecontrol

import (
	"encoding/binary"
	"fmt"
)

// TEA round constants shared by every gateway firmware generation.
const (
	teaDelta  = 0x9E3779B9
	teaRounds = 32
	teaSum1   = 1131376761
	teaSum2   = 1919510376
	teaSum3   = 1948272964
	teaSum4   = 1400073827
)

// Unlock cyphers. Current gateways issue a big-endian challenge on the
// unlock-status characteristic; older firmware pushes a little-endian
// seed and expects a PIN-augmented key.
const (
	ChallengeCypher uint32 = 0x2483FFD5
	LegacyCypher    uint32 = 0x8100080D
)

// teaEncrypt runs the gateway's TEA variant: the cypher seeds one half
// of the block and the result is the transformed seed half.
func teaEncrypt(cypher, seed uint32) uint32 {
	c, s := cypher, seed
	var delta uint32 = teaDelta
	for i := 0; i < teaRounds; i++ {
		s += ((c << 4) + teaSum1) ^ (c + delta) ^ ((c >> 5) + teaSum2)
		c += ((s << 4) + teaSum3) ^ (s + delta) ^ ((s >> 5) + teaSum4)
		delta += teaDelta
	}
	return s
}

// teaDecrypt inverts teaEncrypt for the same cypher.
func teaDecrypt(cypher, encrypted uint32) uint32 {
	c, s := cypher, encrypted
	var delta uint32 = teaDelta
	delta *= teaRounds
	for i := 0; i < teaRounds; i++ {
		c -= ((s << 4) + teaSum3) ^ (s + delta) ^ ((s >> 5) + teaSum4)
		s -= ((c << 4) + teaSum1) ^ (c + delta) ^ ((c >> 5) + teaSum2)
		delta -= teaDelta
	}
	return s
}

// challengeResponse answers a 4-byte unlock challenge. Both the
// challenge and the key are big-endian.
func challengeResponse(challenge []byte) ([]byte, error) {
	if len(challenge) != 4 {
		return nil, fmt.Errorf("unlock challenge is %d bytes, want 4", len(challenge))
	}
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, teaEncrypt(ChallengeCypher, binary.BigEndian.Uint32(challenge)))
	return key, nil
}

// legacyAuthKey answers an old-style seed notification: the encrypted
// seed little-endian in the first 4 bytes, then up to 6 ASCII PIN
// digits, zero padded to 16 bytes.
func legacyAuthKey(seed []byte, pin string) ([]byte, error) {
	if len(seed) != 4 {
		return nil, fmt.Errorf("unlock seed is %d bytes, want 4", len(seed))
	}
	key := make([]byte, 16)
	binary.LittleEndian.PutUint32(key[:4], teaEncrypt(LegacyCypher, binary.LittleEndian.Uint32(seed)))
	if len(pin) > 6 {
		pin = pin[:6]
	}
	copy(key[4:], pin)
	return key, nil
}
