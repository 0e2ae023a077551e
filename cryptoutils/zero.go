package cryptoutils

// Zeroize overwrites a sensitive buffer. Callers must invoke it on every exit
// path once a secret or withdrawn random is no longer needed; ordinary
// deallocation is not sufficient.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
