// Package bidrequest converts serialized bid requests into types.Event values.
//
// This is the deserialization boundary in front of the matching engine: the
// engine never sees a request that failed to parse. Every failure is a
// *ParseError naming the offending field.
package bidrequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/solatis/bidkeeper/internal/types"
)

// FieldPaths locates each event attribute inside a bid request document.
type FieldPaths struct {
	Gender      string
	Country     string
	Latitude    string
	Longitude   string
	DeviceModel string
	AppCategory string
	Timestamp   string
}

// DefaultFieldPaths is the layout bid requests are delivered in.
var DefaultFieldPaths = FieldPaths{
	Gender:      "user.gender",
	Country:     "geo.country",
	Latitude:    "geo.lat",
	Longitude:   "geo.lon",
	DeviceModel: "device.model",
	AppCategory: "app.cat",
	Timestamp:   "eventTs",
}

// ParseError reports which field of a bid request could not be converted.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("bid request: %v", e.Err)
	}
	return fmt.Sprintf("bid request field %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type compiledPaths struct {
	gender, country, lat, lon, device, category, timestamp []types.PathSegment
}

// Parser converts documents to events and assigns event IDs.
// Safe for concurrent use; IDs are unique and increasing per Parser.
type Parser struct {
	paths compiledPaths
	ids   types.EventIDSequence
}

// NewParser builds a parser for the default field layout.
func NewParser() *Parser {
	p, err := NewParserWithPaths(DefaultFieldPaths)
	if err != nil {
		panic(err)
	}
	return p
}

// NewParserWithPaths builds a parser for a custom field layout.
func NewParserWithPaths(fp FieldPaths) (*Parser, error) {
	var cp compiledPaths
	for _, f := range []struct {
		name string
		text string
		dst  *[]types.PathSegment
	}{
		{"gender", fp.Gender, &cp.gender},
		{"country", fp.Country, &cp.country},
		{"latitude", fp.Latitude, &cp.lat},
		{"longitude", fp.Longitude, &cp.lon},
		{"device_model", fp.DeviceModel, &cp.device},
		{"app_category", fp.AppCategory, &cp.category},
		{"timestamp", fp.Timestamp, &cp.timestamp},
	} {
		path, err := ParsePath(f.text)
		if err != nil {
			return nil, fmt.Errorf("%s path: %w", f.name, err)
		}
		*f.dst = path
	}
	return &Parser{paths: cp}, nil
}

// Parse decodes one JSON bid request and assigns it the next event ID.
// IDs are only consumed by requests that parse successfully.
func (p *Parser) Parse(data []byte) (*types.Event, error) {
	if len(data) > types.MaxBidRequestSize {
		return nil, &ParseError{Err: types.ErrPayloadTooLarge}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Err: errors.New("invalid JSON: trailing data after document")}
	}

	ev, err := p.fromDocument(doc)
	if err != nil {
		return nil, err
	}
	ev.ID = p.ids.Next()
	return ev, nil
}

// ParseFile reads and parses a bid request file.
func (p *Parser) ParseFile(fsys afero.Fs, path string) (*types.Event, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read bid request %s: %w", path, err)
	}
	ev, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ev, nil
}

func (p *Parser) fromDocument(doc any) (*types.Event, error) {
	genderText, err := textField(p.paths.gender, doc)
	if err != nil {
		return nil, err
	}
	gender, err := types.ParseGender(genderText)
	if err != nil {
		return nil, &ParseError{Field: FormatPath(p.paths.gender), Err: err}
	}

	ev := &types.Event{Gender: gender}
	if ev.Country, err = textField(p.paths.country, doc); err != nil {
		return nil, err
	}
	if ev.Latitude, err = floatField(p.paths.lat, doc); err != nil {
		return nil, err
	}
	if ev.Longitude, err = floatField(p.paths.lon, doc); err != nil {
		return nil, err
	}
	if ev.DeviceModel, err = textField(p.paths.device, doc); err != nil {
		return nil, err
	}
	if ev.AppCategory, err = textField(p.paths.category, doc); err != nil {
		return nil, err
	}
	if ev.Timestamp, err = integerField(p.paths.timestamp, doc); err != nil {
		return nil, err
	}
	return ev, nil
}

// required resolves a mandatory field. Absent and null are both missing.
func required(path []types.PathSegment, doc any) (any, error) {
	res, err := Resolve(path, doc)
	if err != nil && !errors.Is(err, types.ErrFieldNotFound) {
		return nil, &ParseError{Field: FormatPath(path), Err: err}
	}
	if err != nil || !res.Found {
		return nil, &ParseError{Field: FormatPath(path), Err: types.ErrMissingField}
	}
	return res.Value, nil
}

func textField(path []types.PathSegment, doc any) (string, error) {
	v, err := required(path, doc)
	if err != nil {
		return "", err
	}
	s, err := coerceText(v)
	if err != nil {
		return "", &ParseError{Field: FormatPath(path), Err: err}
	}
	return s, nil
}

func floatField(path []types.PathSegment, doc any) (float64, error) {
	v, err := required(path, doc)
	if err != nil {
		return 0, err
	}
	f, err := coerceFloat(v)
	if err != nil {
		return 0, &ParseError{Field: FormatPath(path), Err: err}
	}
	return f, nil
}

func integerField(path []types.PathSegment, doc any) (int64, error) {
	v, err := required(path, doc)
	if err != nil {
		return 0, err
	}
	n, err := coerceInteger(v)
	if err != nil {
		return 0, &ParseError{Field: FormatPath(path), Err: err}
	}
	return n, nil
}
