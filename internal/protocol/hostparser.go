package protocol

import (
	"errors"
)

var (
	// ErrNeedMoreData signals that a HostParser needs a longer prelude
	// before it can decide whether it matches the stream.
	ErrNeedMoreData = errors.New("protocol: need more data")
	// ErrNoMatch signals that a HostParser does not apply to this stream.
	ErrNoMatch = errors.New("protocol: no match")
)

// HostParser extracts a routing hostname from the captured initial bytes of a connection.
//
// Parse should return:
//  - (host, nil) when it successfully extracted a hostname
//  - ("", ErrNeedMoreData) when more bytes are required
//  - ("", ErrNoMatch) when the parser does not apply to this stream
//  - ("", err) for fatal errors
//
// Implementations must be pure with respect to input bytes.
// They may be called multiple times with increasing prefixes of the same stream.
type HostParser interface {
	Name() string
	Parse(prelude []byte) (string, error)
}

// ChainHostParser tries a fixed, ordered list of secondary HostParsers
// against the same prelude, returning the first match.
type ChainHostParser struct {
	parsers []HostParser
}

// NewChainHostParser builds a ChainHostParser over parsers, dropping any
// nil entries.
func NewChainHostParser(parsers ...HostParser) *ChainHostParser {
	out := make([]HostParser, 0, len(parsers))
	for _, p := range parsers {
		if p != nil {
			out = append(out, p)
		}
	}
	return &ChainHostParser{parsers: out}
}

func (p *ChainHostParser) Name() string { return "chain" }

// Len reports the number of parsers in the chain.
func (p *ChainHostParser) Len() int { return len(p.parsers) }

// Names returns the Name() of each parser in the chain, in try order.
func (p *ChainHostParser) Names() []string {
	out := make([]string, len(p.parsers))
	for i, sp := range p.parsers {
		out[i] = sp.Name()
	}
	return out
}

func (p *ChainHostParser) Parse(prelude []byte) (string, error) {
	var needMore bool
	for _, sp := range p.parsers {
		host, err := sp.Parse(prelude)
		if err == nil {
			if host == "" {
				// Treat empty host as a non-match to keep callers simple.
				continue
			}
			return host, nil
		}
		if errors.Is(err, ErrNeedMoreData) {
			needMore = true
			continue
		}
		if errors.Is(err, ErrNoMatch) {
			continue
		}
		return "", err
	}
	if needMore {
		return "", ErrNeedMoreData
	}
	return "", ErrNoMatch
}

var _ HostParser = (*ChainHostParser)(nil)
