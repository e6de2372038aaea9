package peertable

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Row is one parsed configuration record: the six leading fields common to
// every entry plus whatever transport-specific tail tokens followed.
type Row struct {
	// Index is the record index of this row -- incremented once per `;`
	// terminated record, not once per newline. Diagnostics about a row
	// report it under "index"; LoadEntry callbacks do not receive it.
	Index int

	Name         string
	ProcessorId  uint32
	ProtocolId   uint8
	SpacecraftId uint32
	QoS          uint8
	NetNum       int
	Tail         []string
}

// Tokenize splits a configuration file's contents into Rows.
//
// Grammar: comma-separated fields, `;` terminates a record, `!` terminates
// the file, and whitespace (space, tab, newline) and `,` are both treated
// as field separators -- so consecutive separators collapse rather than
// producing empty fields. The record index counts records, not lines.
func Tokenize(contents string) []Row {
	var rows []Row
	recordIndex := 0

	for _, record := range splitRecords(contents) {
		fields := splitFields(record)
		if len(fields) == 0 {
			continue
		}
		row, err := parseRow(fields, recordIndex)
		recordIndex++
		if err != nil {
			slog.Warn("dropping malformed peer table row", "index", row.Index, "line", strings.TrimSpace(record), "error", err)
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// splitRecords cuts contents at `;`, stopping entirely at the first `!`.
func splitRecords(contents string) []string {
	if i := strings.IndexByte(contents, '!'); i >= 0 {
		contents = contents[:i]
	}
	return strings.Split(contents, ";")
}

func isFieldSep(r rune) bool {
	return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func splitFields(record string) []string {
	return strings.FieldsFunc(record, isFieldSep)
}

func parseRow(fields []string, index int) (Row, error) {
	const numLeadingFields = 6
	if len(fields) < numLeadingFields {
		return Row{Index: index}, fmt.Errorf("expected at least %d fields, got %d", numLeadingFields, len(fields))
	}

	processorID, err := parseNumeric(fields[1])
	if err != nil {
		return Row{Index: index}, fmt.Errorf("invalid processor id %q: %w", fields[1], err)
	}
	protocolID, err := parseNumeric(fields[2])
	if err != nil {
		return Row{Index: index}, fmt.Errorf("invalid protocol id %q: %w", fields[2], err)
	}
	spacecraftID, err := parseNumeric(fields[3])
	if err != nil {
		return Row{Index: index}, fmt.Errorf("invalid spacecraft id %q: %w", fields[3], err)
	}
	qos, err := parseNumeric(fields[4])
	if err != nil {
		return Row{Index: index}, fmt.Errorf("invalid qos %q: %w", fields[4], err)
	}
	netNum, err := parseNumeric(fields[5])
	if err != nil {
		return Row{Index: index}, fmt.Errorf("invalid net num %q: %w", fields[5], err)
	}

	return Row{
		Index:        index,
		Name:         fields[0],
		ProcessorId:  uint32(processorID),
		ProtocolId:   uint8(protocolID),
		SpacecraftId: uint32(spacecraftID),
		QoS:          uint8(qos),
		NetNum:       int(netNum),
		Tail:         append([]string(nil), fields[numLeadingFields:]...),
	}, nil
}

// parseNumeric accepts decimal, 0x-prefixed hex, and 0-prefixed octal,
// matching the textual numeric literals used in the original peer file
// format.
func parseNumeric(field string) (uint64, error) {
	return strconv.ParseUint(field, 0, 64)
}
