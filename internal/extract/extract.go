// Package extract turns uploaded files into raw text for ingestion. Each
// supported format has its own extractor; ForFile picks one by extension.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// ErrUnsupportedFormat is returned for file extensions no extractor handles.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Extractor produces the raw text of a document file.
type Extractor interface {
	Extract(path string) (string, error)
}

// ForFile selects an extractor by the file's extension.
func ForFile(path string) (Extractor, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return textExtractor{}, nil
	case ".md", ".markdown":
		return markdownExtractor{}, nil
	case ".pdf":
		return pdfExtractor{}, nil
	case ".docx":
		return docxExtractor{}, nil
	case ".xlsx":
		return xlsxExtractor{}, nil
	case ".ods":
		return odsExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

type textExtractor struct{}

func (textExtractor) Extract(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type markdownExtractor struct{}

// Extract strips markdown structure and returns the plain text content.
func (markdownExtractor) Extract(path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	md := goldmark.New()
	root := md.Parser().Parse(gtext.NewReader(src))

	var sb strings.Builder
	err = gast.Walk(root, func(n gast.Node, entering bool) (gast.WalkStatus, error) {
		if !entering {
			if n.Type() == gast.TypeBlock && sb.Len() > 0 {
				sb.WriteString("\n")
			}
			return gast.WalkContinue, nil
		}
		if t, ok := n.(*gast.Text); ok {
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString(" ")
			}
		}
		return gast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

type pdfExtractor struct{}

func (pdfExtractor) Extract(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		pageText, err := reader.Page(i).GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extracting page %d: %w", i, err)
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

type docxExtractor struct{}

func (docxExtractor) Extract(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return stripXML(r.Editable().GetContent(), "<w:t", "</w:t>"), nil
}

type xlsxExtractor struct{}

func (xlsxExtractor) Extract(path string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, sheet := range f.Sheets {
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				sb.WriteString(cell.String())
				sb.WriteString("\t")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

type odsExtractor struct{}

func (odsExtractor) Extract(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// stripXML collects the text between openTag...> and closeTag pairs, joined by
// spaces. openTag is matched as a prefix so attribute-bearing tags count too.
func stripXML(content, openTag, closeTag string) string {
	var sb strings.Builder
	for _, part := range strings.Split(content, openTag)[1:] {
		gt := strings.Index(part, ">")
		if gt < 0 {
			continue
		}
		end := strings.Index(part, closeTag)
		if end <= gt {
			continue
		}
		sb.WriteString(part[gt+1 : end])
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String())
}
