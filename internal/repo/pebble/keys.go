package pebble

// Key layout, NUL separated so no program name can prefix another:
//
//	rel\x00{program}\x00{sortKey} -> JSON record
//	latest\x00{program}            -> sortKey of the promoted release
const sep = "\x00"

func releasePrefix(program string) []byte {
	return []byte("rel" + sep + program + sep)
}

func releaseKey(program, sortKey string) []byte {
	return append(releasePrefix(program), sortKey...)
}

func latestKey(program string) []byte {
	return []byte("latest" + sep + program)
}
