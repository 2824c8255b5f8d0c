// Encodes collections into files.

package docstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Codec converts a whole collection to and from its file representation.
type Codec interface {
	// Name identifies the codec in configuration.
	Name() string
	// Ext is the canonical file suffix, including the dot.
	Ext() string
	Encode(records []Record) ([]byte, error)
	Decode(data []byte) ([]Record, error)
}

// NewCodec returns the built-in codec with the given name. An empty name
// selects JSON.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "jsonl":
		return JSONLCodec{}, nil
	case "bson":
		return BSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec stores a collection as an indented JSON array.
type JSONCodec struct{}

// Name implements [Codec].
func (JSONCodec) Name() string { return "json" }

// Ext implements [Codec].
func (JSONCodec) Ext() string { return ".json" }

// Encode implements [Codec].
func (JSONCodec) Encode(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode implements [Codec]. Empty content is an empty collection.
func (JSONCodec) Decode(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return checkDecoded(records)
}

// JSONLCodec stores one record per line.
type JSONLCodec struct{}

// Name implements [Codec].
func (JSONLCodec) Name() string { return "jsonl" }

// Ext implements [Codec].
func (JSONLCodec) Ext() string { return ".jsonl" }

// Encode implements [Codec].
func (JSONLCodec) Encode(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal row: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Decode implements [Codec]. Blank lines are skipped.
func (JSONLCodec) Decode(data []byte) ([]Record, error) {
	records := []Record{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return checkDecoded(records)
}

// BSONCodec stores the collection as one BSON document {records: [...]}.
type BSONCodec struct{}

// Name implements [Codec].
func (BSONCodec) Name() string { return "bson" }

// Ext implements [Codec].
func (BSONCodec) Ext() string { return ".bson" }

type bsonFile struct {
	Records []bson.Raw `bson:"records"`
}

// Encode implements [Codec].
func (BSONCodec) Encode(records []Record) ([]byte, error) {
	docs := make([]map[string]any, len(records))
	for i, r := range records {
		docs[i] = r
	}
	return bson.Marshal(bson.M{"records": docs})
}

// Decode implements [Codec]. Documents are converted back to JSON value
// types through relaxed extended JSON.
func (BSONCodec) Decode(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return []Record{}, nil
	}
	var f bsonFile
	if err := bson.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(f.Records))
	for i, raw := range f.Records {
		js, err := bson.MarshalExtJSON(raw, false, false)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		var r Record
		if err := json.Unmarshal(js, &r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, r)
	}
	return checkDecoded(records)
}

var errNullRecord = errors.New("null record")

// checkDecoded rejects sequences that are not records with valid ids.
func checkDecoded(records []Record) ([]Record, error) {
	if records == nil {
		return []Record{}, nil
	}
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("record %d: %w", i, errNullRecord)
		}
		if _, _, err := checkID(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return records, nil
}
