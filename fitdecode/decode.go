// Package fitdecode turns raw FIT bytes into a per-message-type table of
// name-keyed records. It decodes the wire format directly so grouped sensor
// messages and developer fields survive with their full payloads, which the
// higher-level activity decoders drop.
package fitdecode

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tormoder/fit"
	"github.com/tormoder/fit/dyncrc16"
)

const (
	compressedHeaderMask       = 0x80
	compressedLocalMesgNumMask = 0x60
	compressedTimeMask         = 0x1F
	mesgDefinitionMask         = 0x40
	devDataMask                = 0x20
	localMesgNumMask           = 0x0F

	headerSizeNoCRC = 12
	headerSizeCRC   = 14
)

// Header holds the parsed FIT file header.
type Header struct {
	Size            uint8
	ProtocolVersion uint8
	ProfileVersion  uint16
	DataSize        uint32
	DataType        string
}

// File is the decoded form of one FIT file.
type File struct {
	Header Header
	Table  Table
	// HeaderCRCValid and FileCRCValid report checksum state. A mismatch is
	// a data-quality warning, not a decode failure.
	HeaderCRCValid bool
	FileCRCValid   bool
	DataMessages   int
	Definitions    int
}

// Decode parses raw FIT bytes into a message table. Structural problems
// (truncation, bad header, missing definitions) fail the whole file; CRC
// mismatches are reported on the returned File instead.
func Decode(data []byte) (*File, error) {
	if len(data) < headerSizeNoCRC+2 {
		return nil, fmt.Errorf("fit file too short: %d bytes", len(data))
	}

	header, headerCRCValid, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	dataStart := int(header.Size)
	dataSize := int(header.DataSize)

	required := dataStart + dataSize + 2
	if len(data) < required {
		return nil, fmt.Errorf("fit file truncated: have %d bytes, need %d", len(data), required)
	}

	stored := binary.LittleEndian.Uint16(data[dataStart+dataSize:])
	computed := dyncrc16.Checksum(data[:dataStart+dataSize])

	d := &decoder{
		data:        data[dataStart : dataStart+dataSize],
		definitions: make(map[uint8]definition),
		devDescs:    make(map[devKey]devDesc),
		table:       make(Table),
	}
	if err := d.walk(); err != nil {
		return nil, err
	}

	return &File{
		Header:         header,
		Table:          d.table,
		HeaderCRCValid: headerCRCValid,
		FileCRCValid:   stored == computed,
		DataMessages:   d.dataCount,
		Definitions:    d.defCount,
	}, nil
}

func parseHeader(data []byte) (Header, bool, error) {
	size := data[0]
	if size != headerSizeNoCRC && size != headerSizeCRC {
		return Header{}, false, fmt.Errorf("invalid fit header size: %d", size)
	}
	if len(data) < int(size) {
		return Header{}, false, fmt.Errorf("truncated fit header: need %d bytes", size)
	}

	h := Header{
		Size:            size,
		ProtocolVersion: data[1],
		ProfileVersion:  binary.LittleEndian.Uint16(data[2:4]),
		DataSize:        binary.LittleEndian.Uint32(data[4:8]),
		DataType:        string(data[8:12]),
	}
	if h.DataType != ".FIT" {
		return Header{}, false, fmt.Errorf("invalid fit data type in header: %q", h.DataType)
	}

	crcValid := true
	if size == headerSizeCRC {
		stored := binary.LittleEndian.Uint16(data[12:14])
		// A zero header CRC means "not computed" per the FIT spec.
		if stored != 0 {
			crcValid = stored == dyncrc16.Checksum(data[:12])
		}
	}
	return h, crcValid, nil
}

type fieldDef struct {
	fieldNumber uint8
	size        uint8
	base        baseType
}

type devFieldDef struct {
	fieldNumber      uint8
	size             uint8
	developerDataIdx uint8
}

type definition struct {
	globalMesgNum fit.MesgNum
	arch          binary.ByteOrder
	fields        []fieldDef
	devFields     []devFieldDef
}

type devKey struct {
	idx   uint8
	field uint8
}

type devDesc struct {
	name    string
	baseRaw uint8
}

type decoder struct {
	data        []byte
	pos         int
	definitions map[uint8]definition
	devDescs    map[devKey]devDesc
	table       Table

	lastTimestamp  uint32
	lastTimeOffset int32

	dataCount int
	defCount  int
}

func (d *decoder) read(n int) ([]byte, error) {
	if d.pos+n > len(d.data) {
		return nil, fmt.Errorf("fit record truncated at byte %d", d.pos)
	}
	out := d.data[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) walk() error {
	recordIndex := 0
	for d.pos < len(d.data) {
		recordIndex++
		headerByte := d.data[d.pos]
		d.pos++

		switch {
		case headerByte&compressedHeaderMask == compressedHeaderMask:
			local := (headerByte & compressedLocalMesgNumMask) >> 5
			def, ok := d.definitions[local]
			if !ok {
				return fmt.Errorf("missing definition for compressed data message local=%d record=%d", local, recordIndex)
			}
			if err := d.parseDataMessage(headerByte, def, true); err != nil {
				return err
			}
		case headerByte&mesgDefinitionMask == mesgDefinitionMask:
			local := headerByte & localMesgNumMask
			def, err := d.parseDefinition(headerByte)
			if err != nil {
				return fmt.Errorf("definition record %d: %w", recordIndex, err)
			}
			d.definitions[local] = def
			d.defCount++
		default:
			local := headerByte & localMesgNumMask
			def, ok := d.definitions[local]
			if !ok {
				return fmt.Errorf("missing definition for data message local=%d record=%d", local, recordIndex)
			}
			if err := d.parseDataMessage(headerByte, def, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *decoder) parseDefinition(headerByte uint8) (definition, error) {
	if _, err := d.read(1); err != nil { // reserved
		return definition{}, err
	}
	archRaw, err := d.read(1)
	if err != nil {
		return definition{}, err
	}
	var arch binary.ByteOrder
	switch archRaw[0] {
	case 0:
		arch = binary.LittleEndian
	case 1:
		arch = binary.BigEndian
	default:
		return definition{}, fmt.Errorf("invalid architecture byte %d", archRaw[0])
	}

	globalBytes, err := d.read(2)
	if err != nil {
		return definition{}, err
	}
	def := definition{
		globalMesgNum: fit.MesgNum(arch.Uint16(globalBytes)),
		arch:          arch,
	}

	numRaw, err := d.read(1)
	if err != nil {
		return definition{}, err
	}
	numFields := int(numRaw[0])
	def.fields = make([]fieldDef, 0, numFields)
	for i := 0; i < numFields; i++ {
		raw, err := d.read(3)
		if err != nil {
			return definition{}, err
		}
		def.fields = append(def.fields, fieldDef{
			fieldNumber: raw[0],
			size:        raw[1],
			base:        canonicalBaseType(raw[2]),
		})
	}

	if headerByte&devDataMask == devDataMask {
		countRaw, err := d.read(1)
		if err != nil {
			return definition{}, err
		}
		devCount := int(countRaw[0])
		def.devFields = make([]devFieldDef, 0, devCount)
		for i := 0; i < devCount; i++ {
			raw, err := d.read(3)
			if err != nil {
				return definition{}, err
			}
			def.devFields = append(def.devFields, devFieldDef{
				fieldNumber:      raw[0],
				size:             raw[1],
				developerDataIdx: raw[2],
			})
		}
	}
	return def, nil
}

func (d *decoder) parseDataMessage(headerByte uint8, def definition, compressed bool) error {
	msg := Message{Fields: make(map[string]Value, len(def.fields))}

	sawTimestamp := false
	for _, fd := range def.fields {
		raw, err := d.read(int(fd.size))
		if err != nil {
			return err
		}
		value := decodeField(raw, fd, def.arch)
		if fd.fieldNumber == 253 {
			if ts, ok := rawTimestamp(value); ok {
				d.lastTimestamp = ts
				d.lastTimeOffset = int32(ts & compressedTimeMask)
				sawTimestamp = true
			}
		}
		if isTimeField(def.globalMesgNum, fd.fieldNumber) {
			if ts, ok := rawTimestamp(value); ok {
				value = Value{Scalar: fitEpochToUTC(ts)}
			}
		}
		msg.Fields[fieldName(def.globalMesgNum, fd.fieldNumber)] = value
	}

	// Compressed-header messages carry a 5-bit rolling time offset instead
	// of a timestamp field; reconstruct the absolute time from the last
	// full timestamp seen.
	if compressed && !sawTimestamp && d.lastTimestamp != 0 {
		offset := int32(headerByte & compressedTimeMask)
		d.lastTimestamp += uint32((offset - d.lastTimeOffset) & int32(compressedTimeMask))
		d.lastTimeOffset = offset
		msg.Fields["timestamp"] = Value{Scalar: fitEpochToUTC(d.lastTimestamp)}
	}

	for _, ddf := range def.devFields {
		raw, err := d.read(int(ddf.size))
		if err != nil {
			return err
		}
		field := DeveloperField{
			FieldNumber:      ddf.fieldNumber,
			DeveloperDataIdx: ddf.developerDataIdx,
		}
		desc, described := d.devDescs[devKey{idx: ddf.developerDataIdx, field: ddf.fieldNumber}]
		if described {
			field.Name = desc.name
			field.Value = decodeDevValue(raw, canonicalBaseType(desc.baseRaw), def.arch)
		} else {
			field.Value = decodeDevValue(raw, baseUint8, def.arch)
		}
		msg.Dev = append(msg.Dev, field)
	}

	if def.globalMesgNum == MesgFieldDescription {
		d.registerFieldDescription(msg)
	}

	d.table[def.globalMesgNum] = append(d.table[def.globalMesgNum], msg)
	d.dataCount++
	return nil
}

// registerFieldDescription indexes a field_description message so later
// developer fields resolve by name. Descriptions always precede first use
// in a well-formed stream.
func (d *decoder) registerFieldDescription(msg Message) {
	idxV, ok1 := msg.Field("developer_data_index")
	numV, ok2 := msg.Field("field_definition_number")
	nameV, ok3 := msg.Field("field_name")
	if !ok1 || !ok2 || !ok3 {
		return
	}
	idx, ok1 := idxV.Float()
	num, ok2 := numV.Float()
	name, ok3 := nameV.Scalar.(string)
	if !ok1 || !ok2 || !ok3 || name == "" {
		return
	}
	baseRaw := uint8(baseUint8)
	if btV, ok := msg.Field("fit_base_type_id"); ok {
		if bt, ok := btV.Float(); ok {
			baseRaw = uint8(bt)
		}
	}
	d.devDescs[devKey{idx: uint8(idx), field: uint8(num)}] = devDesc{
		name:    name,
		baseRaw: baseRaw,
	}
}

func decodeField(raw []byte, fd fieldDef, arch binary.ByteOrder) Value {
	bt := fd.base
	if bt == baseString {
		str := decodeNullTerminatedString(raw)
		return Value{Scalar: str, Invalid: str == "" && allBytes(raw, 0x00)}
	}
	if bt == baseByte {
		elems := make([]any, len(raw))
		for i, b := range raw {
			elems[i] = b
		}
		return Value{Array: elems, Invalid: allBytes(raw, 0xFF)}
	}

	size, ok := baseSizes[bt]
	if !ok || size <= 0 || len(raw)%size != 0 {
		// Unknown base type; keep raw bytes so nothing is silently lost.
		elems := make([]any, len(raw))
		for i, b := range raw {
			elems[i] = b
		}
		return Value{Array: elems}
	}

	count := len(raw) / size
	if count == 1 {
		v, invalid := decodeBaseValue(raw, bt, arch)
		return Value{Scalar: v, Invalid: invalid}
	}

	elems := make([]any, 0, count)
	invalidCount := 0
	for i := 0; i < count; i++ {
		v, invalid := decodeBaseValue(raw[i*size:(i+1)*size], bt, arch)
		elems = append(elems, v)
		if invalid {
			invalidCount++
		}
	}
	return Value{Array: elems, Invalid: invalidCount == count}
}

// decodeDevValue decodes a developer field payload using the base type its
// field_description declared, falling back to single-byte interpretation.
func decodeDevValue(raw []byte, bt baseType, arch binary.ByteOrder) Value {
	size, ok := baseSizes[bt]
	if !ok || size <= 0 || len(raw)%size != 0 {
		if len(raw) == 0 {
			return Value{Invalid: true}
		}
		return Value{Scalar: raw[0]}
	}
	count := len(raw) / size
	if count == 1 {
		v, invalid := decodeBaseValue(raw, bt, arch)
		return Value{Scalar: v, Invalid: invalid}
	}
	elems := make([]any, 0, count)
	for i := 0; i < count; i++ {
		v, _ := decodeBaseValue(raw[i*size:(i+1)*size], bt, arch)
		elems = append(elems, v)
	}
	return Value{Array: elems}
}

func rawTimestamp(v Value) (uint32, bool) {
	switch x := v.Scalar.(type) {
	case uint32:
		if x == 0xFFFFFFFF {
			return 0, false
		}
		return x, true
	}
	return 0, false
}

// fitEpochToUTC converts raw FIT seconds (epoch 1989-12-31T00:00:00Z) to
// wall-clock UTC.
func fitEpochToUTC(ts uint32) time.Time {
	base := time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(ts) * time.Second)
}
