package ingest

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/nguyenthenguyen/docx"
)

var errLegacyWord = errors.New("legacy binary .doc files are not supported, save the document as .docx")

// WordParser extracts the plain text of a docx body. Formatting is discarded;
// paragraphs end with a newline and tabs are kept.
type WordParser struct{}

func (WordParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	data, err := readAll(reader)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, oleMagic) {
		return nil, errLegacyWord
	}
	if !bytes.HasPrefix(data, zipMagic) {
		return nil, errors.New("not a word document")
	}
	opt := parser.GetCommonOptions(&parser.Options{}, opts...)

	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open word document: %w", err)
	}
	defer doc.Close()

	text, err := documentText(doc.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta := map[string]any{MetaWordCount: len(strings.Fields(text))}
	for k, v := range opt.ExtraMeta {
		meta[k] = v
	}
	return []*schema.Document{{ID: opt.URI, Content: text, MetaData: meta}}, nil
}

// documentText walks WordprocessingML and keeps the run text.
func documentText(body string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(body))
	var b strings.Builder
	inText, inTabStops := false, false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tabs":
				inTabStops = true
			case "tab":
				if !inTabStops {
					b.WriteByte('\t')
				}
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "tabs":
				inTabStops = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
