package dicom

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/caio-sobreiro/modalitysim/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// Common transfer syntax UIDs
const (
	TransferSyntaxImplicitVRLittleEndian = types.ImplicitVRLittleEndian
	TransferSyntaxExplicitVRLittleEndian = types.ExplicitVRLittleEndian
)

// UndefinedLength marks a sequence or item terminated by a delimitation item.
const UndefinedLength = 0xFFFFFFFF

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

func (t Tag) less(o Tag) bool {
	if t.Group != o.Group {
		return t.Group < o.Group
	}
	return t.Element < o.Element
}

// Element represents a DICOM data element.
//
// Value holds a string for text VRs, uint16/uint32 for US/UL, []byte for
// binary VRs and []*Dataset for sequences.
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	element := &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
	d.Elements[tag] = element
}

// AddSequence adds an SQ element holding the given items.
func (d *Dataset) AddSequence(tag Tag, items ...*Dataset) {
	if items == nil {
		items = []*Dataset{}
	}
	d.AddElement(tag, VR_SQ, items)
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// Has reports whether the tag is present, even with an empty value.
func (d *Dataset) Has(tag Tag) bool {
	_, ok := d.Elements[tag]
	return ok
}

// Len returns the number of top-level elements.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Elements)
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		if str, ok := element.Value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	if element, exists := d.Elements[tag]; exists {
		switch v := element.Value.(type) {
		case string:
			// Split by backslash for multiple values
			parts := strings.Split(v, "\\")
			result := make([]string, len(parts))
			for i, part := range parts {
				result[i] = strings.TrimSpace(part)
			}
			return result
		case []string:
			return v
		}
	}
	return nil
}

// GetSequence returns the items of an SQ element, or nil if absent.
func (d *Dataset) GetSequence(tag Tag) []*Dataset {
	if element, exists := d.Elements[tag]; exists {
		if items, ok := element.Value.([]*Dataset); ok {
			return items
		}
	}
	return nil
}

// SortedTags returns the dataset's tags in ascending order.
func (d *Dataset) SortedTags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].less(tags[j]) })
	return tags
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	p := &parser{data: data}
	ds, _, err := p.parseDataset(0, len(data), false)
	return ds, err
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		p := &parser{data: data, implicit: true}
		ds, _, err := p.parseDataset(0, len(data), false)
		return ds, err
	case types.ExplicitVRBigEndian, types.DeflatedExplicitVRLittleEndian:
		return nil, fmt.Errorf("unsupported transfer syntax for identifiers: %s", transferSyntaxUID)
	default:
		// Encapsulated syntaxes keep non-pixel attributes in Explicit VR LE
		return ParseDataset(data)
	}
}

type parser struct {
	data     []byte
	implicit bool
}

// parseDataset reads elements in [offset, end). When delimited is set the
// dataset is an undefined-length item and stops at an item delimiter.
func (p *parser) parseDataset(offset, end int, delimited bool) (*Dataset, int, error) {
	dataset := NewDataset()

	for offset < end {
		if offset+8 > end {
			return nil, 0, fmt.Errorf("truncated element header at offset %d", offset)
		}

		tag := Tag{
			Group:   binary.LittleEndian.Uint16(p.data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(p.data[offset+2 : offset+4]),
		}

		if tag == TagItemDelimitation {
			if delimited {
				return dataset, offset + 8, nil
			}
			return nil, 0, fmt.Errorf("unexpected item delimiter at offset %d", offset)
		}

		vr, length, valueOffset, err := p.readHeader(tag, offset, end)
		if err != nil {
			return nil, 0, err
		}

		if vr == VR_SQ || (length == UndefinedLength && vr == VR_UN) {
			items, next, err := p.parseSequence(valueOffset, end, length)
			if err != nil {
				return nil, 0, fmt.Errorf("sequence %s: %w", tag, err)
			}
			dataset.Elements[tag] = &Element{Tag: tag, VR: VR_SQ, Length: length, Value: items}
			offset = next
			continue
		}

		if length == UndefinedLength {
			return nil, 0, fmt.Errorf("undefined length on non-sequence element %s", tag)
		}
		if valueOffset+int(length) > end {
			return nil, 0, fmt.Errorf("element %s length %d exceeds available data", tag, length)
		}

		valueData := p.data[valueOffset : valueOffset+int(length)]
		dataset.Elements[tag] = &Element{Tag: tag, VR: vr, Length: length, Value: parseElementValue(vr, valueData)}

		// Move to next element (including padding if odd length)
		offset = valueOffset + int(length)
		if length%2 == 1 && offset < end {
			offset++
		}
	}

	return dataset, offset, nil
}

func (p *parser) readHeader(tag Tag, offset, end int) (string, uint32, int, error) {
	if p.implicit {
		length := binary.LittleEndian.Uint32(p.data[offset+4 : offset+8])
		return determineVR(tag), length, offset + 8, nil
	}

	vr := string(p.data[offset+4 : offset+6])
	if isLongVR(vr) {
		// Long VR: Tag (4) + VR (2) + Reserved (2) + Length (4) = 12 bytes header
		if offset+12 > end {
			return "", 0, 0, fmt.Errorf("truncated long VR header for %s", tag)
		}
		return vr, binary.LittleEndian.Uint32(p.data[offset+8 : offset+12]), offset + 12, nil
	}
	// Short VR: Tag (4) + VR (2) + Length (2) = 8 bytes header
	return vr, uint32(binary.LittleEndian.Uint16(p.data[offset+6 : offset+8])), offset + 8, nil
}

func (p *parser) parseSequence(offset, end int, length uint32) ([]*Dataset, int, error) {
	seqEnd := end
	if length != UndefinedLength {
		seqEnd = offset + int(length)
		if seqEnd > end {
			return nil, 0, fmt.Errorf("sequence length %d exceeds available data", length)
		}
	}

	items := []*Dataset{}
	for offset < seqEnd {
		if offset+8 > seqEnd {
			return nil, 0, fmt.Errorf("truncated item header at offset %d", offset)
		}
		tag := Tag{
			Group:   binary.LittleEndian.Uint16(p.data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(p.data[offset+2 : offset+4]),
		}
		itemLength := binary.LittleEndian.Uint32(p.data[offset+4 : offset+8])

		switch tag {
		case TagSequenceDelimitation:
			return items, offset + 8, nil
		case TagItem:
			if itemLength == UndefinedLength {
				item, next, err := p.parseDataset(offset+8, seqEnd, true)
				if err != nil {
					return nil, 0, err
				}
				items = append(items, item)
				offset = next
				continue
			}
			itemEnd := offset + 8 + int(itemLength)
			if itemEnd > seqEnd {
				return nil, 0, fmt.Errorf("item length %d exceeds sequence", itemLength)
			}
			item, _, err := p.parseDataset(offset+8, itemEnd, false)
			if err != nil {
				return nil, 0, err
			}
			items = append(items, item)
			offset = itemEnd
		default:
			return nil, 0, fmt.Errorf("unexpected tag %s inside sequence", tag)
		}
	}

	if length == UndefinedLength {
		return nil, 0, fmt.Errorf("missing sequence delimiter")
	}
	return items, seqEnd, nil
}

// parseElementValue converts raw bytes according to the VR
func parseElementValue(vr string, data []byte) interface{} {
	switch vr {
	case VR_US:
		if len(data) >= 2 {
			return binary.LittleEndian.Uint16(data)
		}
	case VR_UL:
		if len(data) >= 4 {
			return binary.LittleEndian.Uint32(data)
		}
	case VR_OB, VR_OW, VR_OD, VR_OF, VR_OL, VR_OV, VR_UN:
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}

	if len(data) == 0 {
		return ""
	}

	// Remove null padding
	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}

	return strings.TrimSpace(value)
}

// determineVR looks up the VR for Implicit VR parsing
func determineVR(tag Tag) string {
	if tag.Element == 0x0000 {
		return VR_UL // group length
	}
	if vr, ok := dictionary[tag]; ok {
		return vr
	}
	return VR_UN
}

func isLongVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OV, VR_OW, VR_SQ, VR_SV, VR_UC, VR_UN, VR_UR, VR_UT, VR_UV:
		return true
	}
	return false
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	e := encoder{}
	e.encode(d)
	return e.buf
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}

	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		e := encoder{implicit: true}
		e.encode(dataset)
		return e.buf, nil
	case types.ExplicitVRBigEndian, types.DeflatedExplicitVRLittleEndian:
		return nil, fmt.Errorf("unsupported transfer syntax for identifiers: %s", transferSyntaxUID)
	default:
		return dataset.EncodeDataset(), nil
	}
}

type encoder struct {
	buf      []byte
	implicit bool
}

func (e *encoder) tag(t Tag) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, t.Group)
	e.buf = binary.LittleEndian.AppendUint16(e.buf, t.Element)
}

func (e *encoder) encode(d *Dataset) {
	for _, tag := range d.SortedTags() {
		element := d.Elements[tag]

		if items, ok := element.Value.([]*Dataset); ok {
			e.sequence(tag, items)
			continue
		}

		e.tag(tag)
		valueBytes := encodeElementValue(element)
		if len(valueBytes)%2 == 1 {
			valueBytes = append(valueBytes, paddingFor(element.VR))
		}

		switch {
		case e.implicit:
			e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(valueBytes)))
		case isLongVR(element.VR):
			// Long VR format: VR (2 bytes) + Reserved (2 bytes) + Length (4 bytes)
			e.buf = append(e.buf, element.VR...)
			e.buf = append(e.buf, 0x00, 0x00)
			e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(valueBytes)))
		default:
			if len(valueBytes) > 65535 {
				valueBytes = valueBytes[:65534]
			}
			e.buf = append(e.buf, element.VR...)
			e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(len(valueBytes)))
		}

		e.buf = append(e.buf, valueBytes...)
	}
}

// sequence writes an undefined-length SQ with undefined-length items.
func (e *encoder) sequence(tag Tag, items []*Dataset) {
	e.tag(tag)
	if !e.implicit {
		e.buf = append(e.buf, VR_SQ...)
		e.buf = append(e.buf, 0x00, 0x00)
	}
	e.buf = binary.LittleEndian.AppendUint32(e.buf, UndefinedLength)

	for _, item := range items {
		e.tag(TagItem)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, UndefinedLength)
		e.encode(item)
		e.tag(TagItemDelimitation)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, 0)
	}

	e.tag(TagSequenceDelimitation)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, 0)
}

// paddingFor returns the byte used to pad odd-length values of a VR
func paddingFor(vr string) byte {
	switch vr {
	case VR_UI, VR_OB, VR_UN:
		return 0x00
	default:
		return 0x20
	}
}

// encodeElementValue encodes an element value to bytes
func encodeElementValue(element *Element) []byte {
	switch v := element.Value.(type) {
	case nil:
		return nil
	case string:
		return []byte(strings.TrimRight(v, "\x00"))
	case []string:
		joined := strings.Join(v, "\\")
		return []byte(strings.TrimRight(joined, "\x00"))
	case []byte:
		return v
	case int:
		return []byte(fmt.Sprintf("%d", v))
	case uint16:
		return binary.LittleEndian.AppendUint16(nil, v)
	case uint32:
		return binary.LittleEndian.AppendUint32(nil, v)
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
