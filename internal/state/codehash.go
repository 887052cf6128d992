package state

import "github.com/ckb-eth/polyjuice/internal/ethtypes"

// CodeHashLock and CodeHashContractLock are the blake2b-256 hashes of the
// two lock scripts the one-shot bootstrap utility publishes on chain.
// Loader.verifyLockCell checks the live cells' data hashes against them
// at startup.
var (
	CodeHashLock         = ethtypes.Hash{0x9b, 0xd7, 0xe0, 0x6f, 0x3e, 0xcf, 0x4b, 0xe0, 0xf2, 0xfc, 0xd2, 0x18, 0x8b, 0x23, 0xf1, 0xb9, 0xfc, 0xc8, 0x8e, 0x5d, 0x4b, 0x65, 0xa8, 0x63, 0x7b, 0x17, 0x72, 0x3b, 0xbd, 0xa3, 0xcc, 0xe8}
	CodeHashContractLock = ethtypes.Hash{0x2a, 0x9e, 0xa5, 0x8a, 0x44, 0xc8, 0x7e, 0xd1, 0x8a, 0x9c, 0x9a, 0xa6, 0x40, 0xfe, 0x53, 0x4c, 0xb1, 0x1a, 0x98, 0x7f, 0x9b, 0x90, 0x88, 0x7d, 0xe1, 0x76, 0x0b, 0x38, 0x3a, 0xc9, 0xdb, 0x07}
)
