package model

type Item struct {
	Key   string
	Value []byte

	Flags uint32
	Size  int64
	CAS   uint64

	// ExpUnix is carried from the set command but never enforced.
	ExpUnix int64
}
