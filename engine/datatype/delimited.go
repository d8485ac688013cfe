// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package datatype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// DelimitedConfig configures the DELIMITED data type.
type DelimitedConfig struct {
	// ColumnDelimiter separates columns inside a record; defaults to ",".
	ColumnDelimiter string
	// RecordDelimiter separates records; defaults to "\n".
	RecordDelimiter string
}

// NewDelimited returns the DELIMITED data type: records map to row elements,
// columns to column1..columnN children. No quoting is applied, so the round
// trip is byte-stable.
func NewDelimited(config DelimitedConfig) DataType {
	if config.ColumnDelimiter == "" {
		config.ColumnDelimiter = ","
	}
	if config.RecordDelimiter == "" {
		config.RecordDelimiter = "\n"
	}
	return delimitedType{config: config}
}

type delimitedType struct {
	config DelimitedConfig
}

func (delimitedType) Name() string { return TypeDelimited }

func (dt delimitedType) Validate(raw []byte) error {
	if len(raw) == 0 {
		return Error.New("empty message")
	}
	return nil
}

func (dt delimitedType) ToTransformable(raw []byte) (*etree.Document, error) {
	if err := dt.Validate(raw); err != nil {
		return nil, err
	}

	text := string(raw)
	trailing := strings.HasSuffix(text, dt.config.RecordDelimiter)
	if trailing {
		text = strings.TrimSuffix(text, dt.config.RecordDelimiter)
	}

	doc := etree.NewDocument()
	root := doc.CreateElement("delimited")
	if trailing {
		root.CreateAttr("trailing", "true")
	}

	for _, record := range strings.Split(text, dt.config.RecordDelimiter) {
		row := root.CreateElement("row")
		for i, column := range strings.Split(record, dt.config.ColumnDelimiter) {
			col := row.CreateElement(fmt.Sprintf("column%d", i+1))
			col.SetText(column)
		}
	}
	return doc, nil
}

func (dt delimitedType) FromTransformable(doc *etree.Document) ([]byte, error) {
	root := doc.Root()
	if root == nil {
		return nil, Error.New("document has no root")
	}

	var records []string
	for _, row := range root.ChildElements() {
		var columns []string
		for _, col := range row.ChildElements() {
			columns = append(columns, col.Text())
		}
		records = append(records, strings.Join(columns, dt.config.ColumnDelimiter))
	}

	out := strings.Join(records, dt.config.RecordDelimiter)
	if root.SelectAttrValue("trailing", "") == "true" {
		out += dt.config.RecordDelimiter
	}
	return []byte(out), nil
}

func (dt delimitedType) MetaData(raw []byte) (map[string]string, error) {
	if err := dt.Validate(raw); err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(string(raw), dt.config.RecordDelimiter)
	records := strings.Split(text, dt.config.RecordDelimiter)
	columns := 0
	if len(records) > 0 {
		columns = len(strings.Split(records[0], dt.config.ColumnDelimiter))
	}
	return map[string]string{
		"type":    TypeDelimited,
		"records": strconv.Itoa(len(records)),
		"columns": strconv.Itoa(columns),
	}, nil
}
