package parsercontract

import (
	"encoding/json"

	"github.com/crashsymbol/symbolicator/internal/errs"
)

// Fixture is a JSON-encodable stand-in for a real debug file: its bytes
// (produced by EncodeFixture) already carry the metadata and lookup
// tables a real parser would have to derive from binary structure. It
// lets internal/derived, internal/resolver and internal/symbolication be
// tested against the Parser interface without a real PE/PDB/ELF parser
// on hand, matching spec §6's treatment of parsing as an external
// collaborator.
type Fixture struct {
	Metadata Metadata
	Symbols  map[uint64][]Symbol
	Unwind   map[uint64]uint64
	Invalid  bool // true: any Parse* call on this fixture's bytes fails
}

// EncodeFixture serializes a Fixture to the bytes a "downloaded object"
// would contain for test purposes.
func EncodeFixture(f Fixture) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	return b
}

func decodeFixture(data []byte) (Fixture, error) {
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return Fixture{}, errs.New(errs.KindParse, "parsercontract.decode_fixture", "not a valid fixture")
	}
	if f.Invalid {
		return Fixture{}, errs.New(errs.KindParse, "parsercontract.decode_fixture", "fixture marked invalid")
	}
	return f, nil
}

// NewFake returns a Parser whose ParseMetadata/BuildSymcache/BuildCficache
// operate on Fixture-encoded bytes.
func NewFake() Parser {
	return fakeParser{}
}

type fakeParser struct{}

func (fakeParser) ParseMetadata(data []byte, path string) (Metadata, error) {
	f, err := decodeFixture(data)
	if err != nil {
		return Metadata{}, err
	}
	return f.Metadata, nil
}

func (fakeParser) BuildSymcache(data []byte, path string) ([]byte, error) {
	f, err := decodeFixture(data)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(f.Symbols)
	if err != nil {
		return nil, errs.Wrap(errs.KindParse, "parsercontract.build_symcache", err)
	}
	return b, nil
}

func (fakeParser) BuildCficache(data []byte, path string) ([]byte, error) {
	f, err := decodeFixture(data)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(f.Unwind)
	if err != nil {
		return nil, errs.Wrap(errs.KindParse, "parsercontract.build_cficache", err)
	}
	return b, nil
}

func (fakeParser) LoadSymcache(blob []byte) (SymCache, error) {
	var table map[uint64][]Symbol
	if err := json.Unmarshal(blob, &table); err != nil {
		return nil, errs.Wrap(errs.KindParse, "parsercontract.load_symcache", err)
	}
	return fakeSymCache(table), nil
}

func (fakeParser) LoadCficache(blob []byte) (CfiCache, error) {
	var table map[uint64]uint64
	if err := json.Unmarshal(blob, &table); err != nil {
		return nil, errs.Wrap(errs.KindParse, "parsercontract.load_cficache", err)
	}
	return fakeCfiCache(table), nil
}

type fakeSymCache map[uint64][]Symbol

func (c fakeSymCache) Lookup(addr uint64) ([]Symbol, bool) {
	s, ok := c[addr]
	return s, ok
}

type fakeCfiCache map[uint64]uint64

func (c fakeCfiCache) Unwind(addr uint64) (uint64, bool) {
	caller, ok := c[addr]
	return caller, ok
}
