package bstate

// KV is one key-value pair in a batch write.
type KV struct {
	Key, Value []byte
}

// StateStore is the persistence capability the state database consumes.
// Implementations must apply PutBatch atomically:
// either every write in the batch is durable, or none is.
type StateStore interface {
	// Get returns the stored value for key,
	// or ok=false if the key has never been written.
	Get(key []byte) (val []byte, ok bool, err error)

	// PutBatch applies all writes atomically.
	PutBatch(writes []KV) error
}

// Store key prefixes. Account records and storage slots
// live in distinct keyspaces of the backing store.
const (
	storePrefixAccount = 'a'
	storePrefixStorage = 's'
)

func accountStoreKey(addr Address) []byte {
	b := make([]byte, 0, 1+AddressSize)
	b = append(b, storePrefixAccount)
	return append(b, addr[:]...)
}

func storageStoreKey(addr Address, slot [32]byte) []byte {
	b := make([]byte, 0, 1+AddressSize+32)
	b = append(b, storePrefixStorage)
	b = append(b, addr[:]...)
	return append(b, slot[:]...)
}
