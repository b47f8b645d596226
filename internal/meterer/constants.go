package meterer

const (
	// MinNumBins is the number of circular bins kept per quorum for reservation usage.
	// Periods p and p+MinNumBins share a bin.
	MinNumBins = 3

	// BytesPerSymbol is the on-wire size of a symbol.
	BytesPerSymbol = 32

	// BytesPerFieldElement is the payload carried by one symbol. The remaining byte
	// keeps the symbol below the field modulus.
	BytesPerFieldElement = 31

	nanosecondsPerSecond = 1_000_000_000
)
